package commands

import (
	"context"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	kit "friendwatch/internal/transport"
	logx "friendwatch/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends text back to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// CallbackFunc handles a button press. The returned text is shown as the
// callback answer.
type CallbackFunc func(ctx context.Context, cb kit.Callback) (string, error)

// Manager routes chat updates to commands and button presses to the
// callback handler. Handlers run on a small worker pool.
type Manager struct {
	mu      sync.RWMutex
	cmds    map[string]Command
	alias   map[string]string
	owners  []int64
	onClick CallbackFunc

	log     logx.Logger
	adapter kit.Adapter
	timeout time.Duration
	workers int
}

func NewManager(log logx.Logger, adapter kit.Adapter, owners []int64) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		cmds:    map[string]Command{},
		alias:   map[string]string{},
		owners:  append([]int64(nil), owners...),
		log:     log,
		adapter: adapter,
		timeout: 15 * time.Second,
		workers: 2,
	}
}

// SetOwners updates the owner list. Safe during hot reload.
func (m *Manager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *Manager) SetCallbackHandler(fn CallbackFunc) {
	m.mu.Lock()
	m.onClick = fn
	m.mu.Unlock()
}

// Register adds commands. A /help command is always present.
func (m *Manager) Register(cmds ...Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cmds {
		name := strings.TrimSpace(strings.TrimPrefix(c.Name, "/"))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		m.cmds[name] = c
		for _, a := range c.Aliases {
			if a = strings.TrimSpace(a); a != "" && !strings.Contains(a, " ") {
				m.alias[a] = name
			}
		}
	}
	if _, ok := m.cmds["help"]; !ok {
		m.cmds["help"] = Command{
			Name:        "help",
			Aliases:     []string{"h"},
			Description: "show help",
			Usage:       "/help",
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, m.HelpText(req.FromID))
			},
		}
		m.alias["h"] = "help"
	}
}

// Commands returns the registered commands sorted by name.
func (m *Manager) Commands() []Command {
	m.mu.RLock()
	out := make([]Command, 0, len(m.cmds))
	for _, c := range m.cmds {
		out = append(out, c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HelpText lists the commands visible to from.
func (m *Manager) HelpText(from int64) string {
	owner := m.isOwner(from)
	var b strings.Builder
	b.WriteString("commands:")
	for _, c := range m.Commands() {
		if c.Access == AccessOwnerOnly && !owner {
			continue
		}
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		b.WriteString("\n" + usage)
		if c.Description != "" {
			b.WriteString(" - " + c.Description)
		}
	}
	return b.String()
}

// Run dispatches updates until ctx is done or updates closes.
func (m *Manager) Run(ctx context.Context, updates <-chan kit.Update) error {
	jobs := make(chan func(), 64)
	var wg sync.WaitGroup
	wg.Add(m.workers)
	for i := 0; i < m.workers; i++ {
		go func(idx int) {
			defer wg.Done()
			for job := range jobs {
				m.runJob(idx, job)
			}
		}(i)
	}
	defer func() {
		close(jobs)
		wg.Wait()
		m.log.Info("command dispatcher stopped")
	}()

	m.log.Info("command dispatcher started", logx.Int("workers", m.workers))
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if job := m.route(ctx, up); job != nil {
				select {
				case jobs <- job:
				default:
					m.log.Warn("command queue full; dropping update", logx.String("kind", string(up.Kind)))
				}
			}
		}
	}
}

func (m *Manager) runJob(idx int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command worker", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *Manager) route(ctx context.Context, up kit.Update) func() {
	switch up.Kind {
	case kit.UpdateMessage:
		return m.routeMessage(ctx, up)
	case kit.UpdateCallback:
		return m.routeCallback(ctx, up)
	default:
		return nil
	}
}

func (m *Manager) routeMessage(ctx context.Context, up kit.Update) func() {
	msg := up.Message
	if msg == nil {
		return nil
	}
	parts := tokenize(msg.Text)
	if len(parts) == 0 || !strings.HasPrefix(parts[0], "/") {
		return nil
	}
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	m.mu.RLock()
	if name, ok := m.alias[word]; ok {
		word = name
	}
	cmd, ok := m.cmds[word]
	m.mu.RUnlock()
	if !ok {
		return func() { _, _ = m.adapter.SendText(ctx, chat, "unknown command. try /help", nil) }
	}
	if cmd.Access == AccessOwnerOnly && !m.isOwner(msg.FromID) {
		return func() { _, _ = m.adapter.SendText(ctx, chat, "unauthorized", nil) }
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    parts[1:],
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.timeout
	}
	return func() {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		start := time.Now()
		if err := cmd.Handle(cctx, req); err != nil {
			req.Logger.Warn("command failed", logx.Err(err), logx.Duration("took", time.Since(start)))
			_ = req.Reply(cctx, "error: "+err.Error())
			return
		}
		req.Logger.Debug("command done", logx.Duration("took", time.Since(start)))
	}
}

func (m *Manager) routeCallback(ctx context.Context, up kit.Update) func() {
	cb := up.Callback
	if cb == nil {
		return nil
	}
	m.mu.RLock()
	fn := m.onClick
	m.mu.RUnlock()
	c := *cb
	return func() {
		cctx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()
		if !m.isOwner(c.FromID) {
			_ = m.adapter.AnswerCallback(cctx, c.ID, "unauthorized")
			return
		}
		if fn == nil {
			_ = m.adapter.AnswerCallback(cctx, c.ID, "")
			return
		}
		text, err := fn(cctx, c)
		if err != nil {
			m.log.Debug("callback failed", logx.String("data", c.Data), logx.Err(err))
			text = err.Error()
		}
		if aerr := m.adapter.AnswerCallback(cctx, c.ID, text); aerr != nil {
			m.log.Debug("callback answer failed", logx.Err(aerr))
		}
	}
}

func (m *Manager) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.owners {
		if o == id {
			return true
		}
	}
	return false
}

func newReqID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// tokenize splits command text into tokens, honoring quotes and backslash
// escapes:
//
//	/track "123 456" --now
func tokenize(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case esc:
			buf.WriteByte(ch)
			esc = false
		case ch == '\\':
			esc = true
		case inQ:
			if ch == qChar {
				inQ = false
			} else {
				buf.WriteByte(ch)
			}
		case ch == '"' || ch == '\'':
			inQ = true
			qChar = ch
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}
