// Package mcpserver exposes the reminder command API as MCP tools, over
// stdio for agent subprocesses and over streamable HTTP inside the daemon.
package mcpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

const serverName = "reminder-tools"

// Reminders is the subset of the command API the tools call.
type Reminders interface {
	Add(ctx context.Context, chatID int64, message, timeExpr string) (reminder.Reminder, error)
	List(ctx context.Context, q reminder.Query) ([]reminder.Reminder, error)
	Pending(ctx context.Context) ([]reminder.Reminder, error)
	Cancel(ctx context.Context, id int64) (reminder.Reminder, error)
	Location() *time.Location
}

type Server struct {
	server *mcp.Server
	api    Reminders
	log    logx.Logger
}

func New(api Reminders, log logx.Logger, version string) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if version == "" {
		version = "dev"
	}
	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version}, nil),
		api:    api,
		log:    log.With(logx.Component("mcp")),
	}
	s.registerTools()
	return s
}

// Run serves a single client over stdin/stdout until ctx ends or the
// client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("mcp stdio server started")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Handler serves the streamable HTTP transport. Every session shares the
// same tool set.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.server }, nil)
}
