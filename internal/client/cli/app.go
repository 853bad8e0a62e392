// Package cli is an interactive client for the relay: a small REPL over
// one Connect stream that prints pushes as they arrive.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/chatrelay/internal/client/config"
	"github.com/dmitrijs2005/chatrelay/internal/client/history"
	"github.com/dmitrijs2005/chatrelay/internal/client/relay"
	"github.com/dmitrijs2005/chatrelay/internal/wire"
)

// relayClient is the part of relay.Client the commands use.
type relayClient interface {
	Connect(ctx context.Context) error
	Close() error
	Pushes() <-chan *wire.Frame
	Ping(ctx context.Context) error
	SendMessage(ctx context.Context, m *wire.SendMessage) (*wire.SendMessageResult, error)
	SendGroupMessage(ctx context.Context, m *wire.SendMessage) (*wire.GroupMessageResult, error)
	GetMessages(ctx context.Context) ([]*relay.Message, error)
	AcknowledgeDelivery(ctx context.Context, globalID int64) (*relay.Status, error)
	AcknowledgeRead(ctx context.Context, globalID int64) (*relay.Status, error)
	DeliveryStatuses(ctx context.Context, ids []int64) ([]*relay.Status, error)
	ReadStatuses(ctx context.Context, ids []int64) ([]*relay.Status, error)
	ListDevices(ctx context.Context) ([]string, error)
	DeleteAppInstance(ctx context.Context, deviceID string) (bool, error)
	RequestAttachmentUpload(ctx context.Context) (*wire.AttachmentUpload, error)
	AttachmentURL(ctx context.Context, key string) (string, error)
}

type App struct {
	config  *config.Config
	client  relayClient
	history history.Repository
	self    string
	out     io.Writer
}

// getToken is an indirection used to facilitate testing.
var getToken = GetToken

// openHistory is a test seam for the local history database.
var openHistory = history.InitDatabase

func NewApp(c *config.Config) (*App, error) {
	token := c.Token
	if token == "" {
		t, err := getToken(os.Stdout)
		if err != nil {
			return nil, err
		}
		token = t
	}
	if token == "" {
		return nil, fmt.Errorf("device credential is required")
	}

	return &App{
		config: c,
		client: relay.NewClient(c.ServerEndpointAddr, token, c.RequestTimeout),
		self:   credentialOwner(token),
		out:    os.Stdout,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	if err := a.client.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", a.config.ServerEndpointAddr, err)
	}
	defer a.client.Close()

	if a.history == nil && a.config.HistoryDB != "" {
		db, err := openHistory(ctx, a.config.HistoryDB)
		if err != nil {
			return fmt.Errorf("history %s: %w", a.config.HistoryDB, err)
		}
		defer db.Close()
		a.history = history.NewSQLiteRepository(db)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.watchPushes(ctx)

	runREPL(ctx, a, bufio.NewScanner(os.Stdin))
	return nil
}
