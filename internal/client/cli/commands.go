package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/client/history"
	"github.com/dmitrijs2005/chatrelay/internal/client/relay"
	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/wire"
	"github.com/google/uuid"
)

var errUsage = errors.New("usage")

func usage(s string) error { return fmt.Errorf("%w: %s", errUsage, s) }

// newLocalID is a test seam for sender-local message ids.
var newLocalID = uuid.NewString

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad message id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (a *App) Ping(ctx context.Context, _ []string) error {
	if err := a.client.Ping(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "OK")
	return nil
}

// Send: send <recipient> <text...>
func (a *App) Send(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usage("send <recipient> <text>")
	}
	now := time.Now()
	m := &wire.SendMessage{
		RecipientID:          args[0],
		Message:              strings.Join(args[1:], " "),
		SenderLocalMessageID: newLocalID(),
		SenderTimestamp:      &now,
	}
	res, err := a.client.SendMessage(ctx, m)
	if err != nil {
		return err
	}
	a.remember(ctx, &history.Entry{
		GlobalID:        res.GlobalMessageID,
		SenderID:        a.self,
		RecipientID:     m.RecipientID,
		SenderLocalID:   m.SenderLocalMessageID,
		Body:            m.Message,
		SenderTimestamp: now,
	})
	fmt.Fprintf(a.out, "sent #%d (delivered: %t)\n", res.GlobalMessageID, res.Delivered)
	return nil
}

// Group: group <r1,r2,...> <text...>
func (a *App) Group(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usage("group <recipient,recipient,...> <text>")
	}
	now := time.Now()
	m := &wire.SendMessage{
		RecipientIDs:         strings.Split(args[0], ","),
		Message:              strings.Join(args[1:], " "),
		SenderLocalMessageID: newLocalID(),
		SenderTimestamp:      &now,
	}
	res, err := a.client.SendGroupMessage(ctx, m)
	if res != nil {
		for rcpt, ids := range res.MessageIDMapping {
			for local, id := range ids {
				fmt.Fprintf(a.out, "sent #%d to %s\n", id, rcpt)
				a.remember(ctx, &history.Entry{
					GlobalID:        id,
					SenderID:        a.self,
					RecipientID:     rcpt,
					SenderLocalID:   local,
					Body:            m.Message,
					SenderTimestamp: now,
				})
			}
		}
	}
	return err
}

// Inbox pulls undelivered messages and acknowledges each as delivered.
func (a *App) Inbox(ctx context.Context, _ []string) error {
	msgs, err := a.client.GetMessages(ctx)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Fprintln(a.out, "no new messages")
		return nil
	}
	for _, m := range msgs {
		a.printMessage(m)
		if _, err := a.client.AcknowledgeDelivery(ctx, m.GlobalID); err != nil {
			return err
		}
		a.rememberMessage(ctx, m, true)
	}
	return nil
}

func (a *App) printMessage(m *relay.Message) {
	fmt.Fprintf(a.out, "#%d %s -> %s [%s]: %s\n", m.GlobalID, m.SenderID, m.RecipientID,
		m.SenderTimestamp.Format("2006-01-02 15:04:05"), m.Body)
}

// Read: read <id...>
func (a *App) Read(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("read <message id> ...")
	}
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := a.client.AcknowledgeRead(ctx, id); err != nil {
			return err
		}
		if a.history != nil {
			if err := a.history.MarkRead(ctx, id); err != nil {
				fmt.Fprintln(a.out, "history:", err)
			}
		}
	}
	return nil
}

// Status: status <id...>
func (a *App) Status(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("status <message id> ...")
	}
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	delivered, err := a.client.DeliveryStatuses(ctx, ids)
	if err != nil {
		return err
	}
	read, err := a.client.ReadStatuses(ctx, ids)
	if err != nil {
		return err
	}

	isRead := make(map[int64]bool, len(read))
	for _, r := range read {
		isRead[r.GlobalID] = r.IsRead
	}
	for _, d := range delivered {
		fmt.Fprintf(a.out, "#%d delivered: %t read: %t\n", d.GlobalID, d.IsDelivered, isRead[d.GlobalID])
	}
	return nil
}

func (a *App) Devices(ctx context.Context, _ []string) error {
	devs, err := a.client.ListDevices(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "online devices:", strings.Join(devs, ", "))
	return nil
}

// Revoke: revoke <device id>
func (a *App) Revoke(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("revoke <device id>")
	}
	deleted, err := a.client.DeleteAppInstance(ctx, args[0])
	if err != nil {
		return err
	}
	if deleted {
		fmt.Fprintln(a.out, "device revoked")
	} else {
		fmt.Fprintln(a.out, "no such device")
	}
	return nil
}

func (a *App) Upload(ctx context.Context, _ []string) error {
	up, err := a.client.RequestAttachmentUpload(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "key: %s\nPUT %s\n", up.StorageKey, up.URL)
	return nil
}

// URL: url <storage key>
func (a *App) URL(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("url <storage key>")
	}
	u, err := a.client.AttachmentURL(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, u)
	return nil
}

// watchPushes prints pushes until the stream ends. Received messages are
// acknowledged as delivered right away and kept in the history, as are the
// status updates for messages this user sent.
func (a *App) watchPushes(ctx context.Context) {
	for f := range a.client.Pushes() {
		switch f.Event {
		case common.EventMessageReceived:
			var m relay.Message
			if err := json.Unmarshal(f.Data, &m); err != nil {
				continue
			}
			a.printMessage(&m)
			if _, err := a.client.AcknowledgeDelivery(ctx, m.GlobalID); err != nil {
				fmt.Fprintln(a.out, "delivery ack failed:", err)
				a.rememberMessage(ctx, &m, false)
				continue
			}
			a.rememberMessage(ctx, &m, true)
		case common.EventDeliveryStatusUpdate, common.EventReadStatusUpdate:
			a.applyStatus(ctx, f.Event, f.Data)
			fmt.Fprintf(a.out, "%s: %s\n", f.Event, f.Data)
		case common.EventSessionSuperseded:
			fmt.Fprintln(a.out, "this device connected elsewhere; session closed")
		default:
			fmt.Fprintf(a.out, "%s: %s\n", f.Event, f.Data)
		}
	}
}
