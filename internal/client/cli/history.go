package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/client/history"
	"github.com/dmitrijs2005/chatrelay/internal/client/relay"
	"github.com/dmitrijs2005/chatrelay/internal/filex"
	"github.com/dmitrijs2005/chatrelay/internal/netx"
	"github.com/golang-jwt/jwt/v5"
)

// credentialOwner reads the user id out of the device credential without
// verifying it. It only labels locally stored outgoing messages.
func credentialOwner(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	id, _ := claims["user_id"].(string)
	return id
}

// Test seams for attachment transfer.
var (
	uploadFn   = netx.UploadToPresignedURL
	downloadFn = netx.DownloadFromPresignedURL
)

func (a *App) remember(ctx context.Context, e *history.Entry) {
	if a.history == nil {
		return
	}
	if err := a.history.Save(ctx, e); err != nil {
		fmt.Fprintln(a.out, "history:", err)
	}
}

func (a *App) rememberMessage(ctx context.Context, m *relay.Message, delivered bool) {
	a.remember(ctx, &history.Entry{
		GlobalID:        m.GlobalID,
		SenderID:        m.SenderID,
		RecipientID:     m.RecipientID,
		SenderLocalID:   m.SenderLocalID,
		Body:            m.Body,
		SenderTimestamp: m.SenderTimestamp,
		IsDelivered:     delivered,
	})
}

// applyStatus mirrors a delivery or read status push into the history.
func (a *App) applyStatus(ctx context.Context, event string, data []byte) {
	if a.history == nil {
		return
	}
	var st relay.Status
	if err := json.Unmarshal(data, &st); err != nil {
		return
	}

	var err error
	switch {
	case st.IsRead:
		err = a.history.MarkRead(ctx, st.GlobalID)
	case st.IsDelivered:
		err = a.history.MarkDelivered(ctx, st.GlobalID)
	}
	if err != nil {
		fmt.Fprintf(a.out, "history (%s): %v\n", event, err)
	}
}

// History: history [peer] [limit]
func (a *App) History(ctx context.Context, args []string) error {
	if a.history == nil {
		return fmt.Errorf("history is disabled")
	}
	peer, limit := "", 20
	if len(args) > 0 {
		peer = args[0]
	}
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return usage("history [peer] [limit]")
		}
		limit = n
	}

	entries, err := a.history.List(ctx, peer, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.out, "no history")
		return nil
	}
	for _, e := range entries {
		mark := " "
		switch {
		case e.IsRead:
			mark = "R"
		case e.IsDelivered:
			mark = "D"
		}
		fmt.Fprintf(a.out, "%s #%d %s -> %s [%s]: %s\n", mark, e.GlobalID, e.SenderID, e.RecipientID,
			e.SenderTimestamp.Local().Format(time.DateTime), e.Body)
	}
	return nil
}

// Attach: attach <file>. Uploads the file and prints its storage key.
func (a *App) Attach(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("attach <file>")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	up, err := a.client.RequestAttachmentUpload(ctx)
	if err != nil {
		return err
	}
	if err := uploadFn(ctx, up.URL, f, fi.Size()); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "uploaded %s (%d bytes) as %s\n", fi.Name(), fi.Size(), up.StorageKey)
	return nil
}

// Fetch: fetch <storage key>. Downloads into the configured directory.
func (a *App) Fetch(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("fetch <storage key>")
	}
	u, err := a.client.AttachmentURL(ctx, args[0])
	if err != nil {
		return err
	}

	dir, err := filex.EnsureDir(a.config.DownloadDir)
	if err != nil {
		return err
	}
	f, err := filex.CreateIn(dir, args[0])
	if err != nil {
		return err
	}

	n, err := downloadFn(ctx, u, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return err
	}
	fmt.Fprintf(a.out, "saved %s (%d bytes)\n", f.Name(), n)
	return nil
}
