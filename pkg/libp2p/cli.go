package libp2p

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/baderanaas/GoPass/pkg/config"
	"github.com/baderanaas/GoPass/pkg/encounter"
	"github.com/baderanaas/GoPass/pkg/logging"
	"github.com/baderanaas/GoPass/pkg/metrics"
	"github.com/baderanaas/GoPass/pkg/notify"
	"github.com/baderanaas/GoPass/pkg/profile"
	"github.com/baderanaas/GoPass/pkg/streetpass"
)

const defaultHistory = 20

// Connector manages the links to neighbours. *Node implements it.
type Connector interface {
	ConnectToPeer(addr string) error
	DisconnectFromPeer(id profile.PeerID) error
}

// History returns the most recent encounter events. *notify.Journal
// implements it.
type History interface {
	LoadRecent(count int) ([]notify.Event, error)
}

// CLI is the interactive console of a node.
type CLI struct {
	engine    *streetpass.Engine
	connector Connector // nil disables /connect and disconnect on /block
	history   History   // nil disables /history
	in        io.Reader
	out       io.Writer
}

// NewCLI creates a console reading commands from in and writing to out.
func NewCLI(engine *streetpass.Engine, connector Connector, history History, in io.Reader, out io.Writer) *CLI {
	return &CLI{engine: engine, connector: connector, history: history, in: in, out: out}
}

func (c *CLI) printHelp() {
	fmt.Fprintf(c.out, "Commands:\n")
	fmt.Fprintf(c.out, "  /peers                 - List encounters\n")
	fmt.Fprintf(c.out, "  /peer <id>             - Show one encounter\n")
	fmt.Fprintf(c.out, "  /profile               - Show your profile\n")
	fmt.Fprintf(c.out, "  /name <text>           - Set your username\n")
	fmt.Fprintf(c.out, "  /status <text>         - Set your status message\n")
	fmt.Fprintf(c.out, "  /avatar <n>            - Set your avatar id\n")
	fmt.Fprintf(c.out, "  /block <id>            - Block a peer, forget it and drop its connection\n")
	fmt.Fprintf(c.out, "  /unblock <id>          - Unblock a peer\n")
	fmt.Fprintf(c.out, "  /blocked               - List blocked peers\n")
	fmt.Fprintf(c.out, "  /history [n]           - Show the last [n] encounter events (default %d)\n", defaultHistory)
	fmt.Fprintf(c.out, "  /stats                 - Show engine counters\n")
	fmt.Fprintf(c.out, "  /cleanup               - Forget expired encounters now\n")
	fmt.Fprintf(c.out, "  /connect <addr>        - Connect to a peer by multiaddress\n")
	fmt.Fprintf(c.out, "  /quit                  - Exit\n")
}

// Run reads commands until /quit or the input ends.
func (c *CLI) Run(ctx context.Context) {
	scanner := bufio.NewScanner(c.in)
	fmt.Fprintf(c.out, "\n✅ GoPass started as %s\n", c.engine.ID())
	c.printHelp()
	fmt.Fprint(c.out, "> ")

	for scanner.Scan() {
		if quit := c.Execute(ctx, scanner.Text()); quit {
			return
		}
		fmt.Fprint(c.out, "> ")
	}
}

// Execute runs a single command line and reports whether it was /quit.
func (c *CLI) Execute(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}
	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit":
		fmt.Fprintln(c.out, "🔌 Shutting down...")
		return true

	case "/help":
		c.printHelp()

	case "/peers":
		c.listPeers()

	case "/peer":
		id, err := c.resolve(arg, c.encounterIDs())
		if err != nil {
			fmt.Fprintf(c.out, "❌ %v\n", err)
			break
		}
		c.showPeer(id)

	case "/profile":
		p, g, digest := c.engine.Profile().Snapshot()
		fmt.Fprintf(c.out, "Peer ID:   %s\n", p.PeerID)
		fmt.Fprintf(c.out, "Username:  %s\n", p.DisplayName())
		fmt.Fprintf(c.out, "Status:    %s\n", p.Status)
		fmt.Fprintf(c.out, "Avatar:    %d\n", p.Avatar)
		fmt.Fprintf(c.out, "Game data: %d bytes\n", len(g))
		fmt.Fprintf(c.out, "Digest:    %x\n", digest[:])

	case "/name":
		c.updateProfile(c.engine.Profile().SetUsername(arg), "Username")

	case "/status":
		c.updateProfile(c.engine.Profile().SetStatus(arg), "Status")

	case "/avatar":
		n, err := strconv.ParseUint(arg, 10, 16)
		if err != nil {
			fmt.Fprintln(c.out, "Usage: /avatar <0-65535>")
			break
		}
		c.updateProfile(c.engine.Profile().SetAvatar(uint16(n)), "Avatar")

	case "/block":
		id, err := c.resolve(arg, c.encounterIDs())
		if err != nil {
			fmt.Fprintf(c.out, "❌ %v\n", err)
			break
		}
		if err := c.engine.Block(id); err != nil {
			fmt.Fprintf(c.out, "❌ Failed to block %s: %v\n", id.Short(), err)
		} else {
			fmt.Fprintf(c.out, "✅ Blocked %s\n", id)
		}
		// A block that could not be saved still holds until restart.
		if c.engine.Blocklist().Contains(id) {
			c.disconnect(id)
		}

	case "/unblock":
		var blocked []profile.PeerID
		for _, b := range c.engine.Blocklist().List() {
			blocked = append(blocked, b.PeerID)
		}
		id, err := c.resolve(arg, blocked)
		if err != nil {
			fmt.Fprintf(c.out, "❌ %v\n", err)
			break
		}
		removed, err := c.engine.Unblock(id)
		switch {
		case err != nil:
			fmt.Fprintf(c.out, "❌ Failed to unblock %s: %v\n", id.Short(), err)
		case !removed:
			fmt.Fprintf(c.out, "%s is not blocked\n", id.Short())
		default:
			fmt.Fprintf(c.out, "✅ Unblocked %s\n", id)
		}

	case "/blocked":
		list := c.engine.Blocklist().List()
		if len(list) == 0 {
			fmt.Fprintln(c.out, "No blocked peers.")
			break
		}
		fmt.Fprintln(c.out, "Blocked peers:")
		for _, b := range list {
			name := b.Name
			if name == "" {
				name = "-"
			}
			fmt.Fprintf(c.out, "  - %s %s (since %s)\n", b.PeerID, name, b.Since.Format(time.DateTime))
		}

	case "/history":
		c.showHistory(arg)

	case "/stats":
		c.showStats()

	case "/cleanup":
		removed := c.engine.Cleanup()
		fmt.Fprintf(c.out, "🧹 Forgot %d expired encounter(s)\n", len(removed))

	case "/connect":
		if c.connector == nil {
			fmt.Fprintln(c.out, "❌ Not connected to a network")
			break
		}
		if arg == "" {
			fmt.Fprintln(c.out, "Usage: /connect <multiaddr>")
			break
		}
		if err := c.connector.ConnectToPeer(arg); err != nil {
			fmt.Fprintf(c.out, "❌ Connection failed: %v\n", err)
		} else {
			fmt.Fprintf(c.out, "✅ Connected successfully\n")
		}

	default:
		fmt.Fprintf(c.out, "Unknown command %q. Type /help for commands.\n", cmd)
	}
	return false
}

// disconnect drops the link to a blocked neighbour, if there is one.
func (c *CLI) disconnect(id profile.PeerID) {
	if c.connector == nil {
		return
	}
	err := c.connector.DisconnectFromPeer(id)
	switch {
	case errors.Is(err, ErrUnknownNeighbour):
	case err != nil:
		fmt.Fprintf(c.out, "⚠️ Could not disconnect %s: %v\n", id.Short(), err)
	default:
		fmt.Fprintf(c.out, "🔌 Disconnected from %s\n", id.Short())
	}
}

func (c *CLI) updateProfile(err error, field string) {
	if err != nil {
		fmt.Fprintf(c.out, "❌ %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "✅ %s updated\n", field)
}

func (c *CLI) encounterIDs() []profile.PeerID {
	records := c.engine.Encounters().Snapshot()
	ids := make([]profile.PeerID, len(records))
	for i, r := range records {
		ids[i] = r.PeerID
	}
	return ids
}

// resolve accepts a full peer ID or a prefix matching exactly one of known.
func (c *CLI) resolve(arg string, known []profile.PeerID) (profile.PeerID, error) {
	if arg == "" {
		return profile.PeerID{}, errors.New("missing peer id")
	}
	if id, err := profile.ParsePeerID(arg); err == nil {
		return id, nil
	}
	var match profile.PeerID
	found := 0
	for _, id := range known {
		if strings.HasPrefix(id.String(), strings.ToLower(arg)) {
			match = id
			found++
		}
	}
	switch found {
	case 0:
		return profile.PeerID{}, fmt.Errorf("no peer matches %q", arg)
	case 1:
		return match, nil
	default:
		return profile.PeerID{}, fmt.Errorf("%q matches %d peers", arg, found)
	}
}

func (c *CLI) listPeers() {
	records := c.engine.Encounters().Snapshot()
	store := c.engine.Encounters()
	fmt.Fprintf(c.out, "📊 %d/%d encounters (TTL %s)\n", len(records), store.MaxPeers(), store.TTL())
	for _, r := range records {
		name := "?"
		if r.Exchanged() {
			name = r.Profile.DisplayName()
		}
		fmt.Fprintf(c.out, "  - %s %-16s seen %dx, last %s, exchange %s\n",
			r.PeerID.Short(), name, r.Interactions,
			r.LastSeen.Format(time.TimeOnly), c.exchangeState(r))
	}
}

func (c *CLI) exchangeState(r encounter.Record) string {
	if state := c.engine.Sessions().State(r.PeerID); state != streetpass.Idle {
		return state.String()
	}
	if r.Exchanged() {
		return streetpass.Completed.String()
	}
	return streetpass.Idle.String()
}

func (c *CLI) showPeer(id profile.PeerID) {
	r, ok := c.engine.Encounters().Get(id)
	if !ok {
		fmt.Fprintf(c.out, "❌ %s is not in the encounter list\n", id)
		return
	}
	fmt.Fprintf(c.out, "Peer ID:      %s\n", r.PeerID)
	fmt.Fprintf(c.out, "First seen:   %s\n", r.FirstSeen.Format(time.DateTime))
	fmt.Fprintf(c.out, "Last seen:    %s\n", r.LastSeen.Format(time.DateTime))
	fmt.Fprintf(c.out, "Interactions: %d\n", r.Interactions)
	fmt.Fprintf(c.out, "Exchange:     %s\n", c.exchangeState(r))
	if r.Exchanged() {
		fmt.Fprintf(c.out, "Username:     %s\n", r.Profile.DisplayName())
		fmt.Fprintf(c.out, "Status:       %s\n", r.Profile.Status)
		fmt.Fprintf(c.out, "Avatar:       %d\n", r.Profile.Avatar)
		fmt.Fprintf(c.out, "Game data:    %d bytes\n", len(r.GameData))
	}
}

func (c *CLI) showHistory(arg string) {
	if c.history == nil {
		fmt.Fprintln(c.out, "❌ Encounter journal is disabled")
		return
	}
	count := defaultHistory
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			fmt.Fprintln(c.out, "Invalid count, must be a positive number.")
			return
		}
		count = n
	}
	events, err := c.history.LoadRecent(count)
	if err != nil {
		fmt.Fprintf(c.out, "⚠️ Could not load history: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "--- Last %d events ---\n", len(events))
	for _, e := range events {
		line := fmt.Sprintf("[%s] %s %s", e.At.Format(time.DateTime), e.Kind, e.PeerID.Short())
		if e.Reason != notify.ReasonNone {
			line += " (" + e.Reason.String() + ")"
		}
		fmt.Fprintln(c.out, line)
	}
	fmt.Fprintln(c.out, "--- End of history ---")
}

func (c *CLI) showStats() {
	s := c.engine.Stats()
	rows := []struct {
		name  string
		value any
	}{
		{"Encounters", s.Encounters},
		{"Pending exchanges", s.PendingExchanges},
		{"Frames received", s.FramesReceived},
		{"Beacons sent", s.BeaconsSent},
		{"Decode errors", s.DecodeErrors},
		{"Loopback drops", s.LoopbackDrops},
		{"Blocked drops", s.BlockedDrops},
		{"Retransmissions", s.Retransmissions},
		{"Stale updates", s.StaleUpdates},
		{"Exchanges started", s.ExchangesStarted},
		{"Exchanges completed", s.ExchangesCompleted},
		{"Exchanges timed out", s.ExchangesTimedOut},
		{"Exchanges not found", s.ExchangesNotFound},
		{"Requests served", s.RequestsServed},
		{"Evictions", s.Evictions},
		{"Expirations", s.Expirations},
	}
	for _, r := range rows {
		fmt.Fprintf(c.out, "  %-20s %v\n", r.name, r.value)
	}
}

// consoleIndicator stands in for the device LED on a terminal.
func consoleIndicator(out io.Writer) notify.Indicator {
	return notify.IndicatorFunc(func(p notify.Pattern) {
		switch p {
		case notify.PatternEncounter:
			fmt.Fprintln(out, "\n✨ Someone new is nearby!")
		case notify.PatternExchange:
			fmt.Fprintln(out, "\n📇 Profile received")
		case notify.PatternForget:
			fmt.Fprintln(out, "\n👋 An encounter was forgotten")
		}
	})
}

// Start runs a node with the given configuration until /quit or SIGINT.
func Start(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := NewNode(NodeOptions{
		Port:           cfg.Node.Port,
		DataDir:        cfg.Node.DataDir,
		MaxConnections: cfg.Node.MaxConnections,
		MDNS:           true,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	defer func() {
		if err := node.Close(); err != nil {
			logger.Warn("Error closing node", zap.Error(err))
		}
	}()

	self, err := profile.NewStore(profile.Profile{
		PeerID:   node.PeerID(),
		Username: cfg.Profile.Username,
		Avatar:   cfg.Profile.Avatar,
		Status:   cfg.Profile.Status,
	}, cfg.GameData())
	if err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}

	store, err := encounter.New(cfg.Discovery.MaxPeers, cfg.Discovery.InteractionTTL, logger.Named(logging.ComponentEncounters))
	if err != nil {
		return err
	}

	blocklist, err := streetpass.NewBlocklist(BlocklistPath(node.DataDir()))
	if err != nil {
		return fmt.Errorf("failed to load blocklist: %w", err)
	}

	sinks := notify.Multi{
		notify.LogSink{Logger: logger.Named("events")},
		notify.IndicatorSink{Indicator: consoleIndicator(os.Stdout)},
	}
	var journal *notify.Journal
	var history History
	if cfg.Logging.Journal {
		journal, err = notify.NewJournal(JournalPath(node.DataDir()), logger)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		sinks = append(sinks, journal)
		history = journal
	}

	opts := streetpass.OptionsFromConfig(cfg.Discovery)
	opts.Logger = logger
	opts.Sink = sinks
	opts.Blocklist = blocklist
	engine, err := streetpass.NewEngine(self, store, node, opts)
	if err != nil {
		return err
	}

	if err := node.Listen(func(ctx context.Context, frame []byte, from profile.PeerID) {
		engine.HandleFrame(ctx, frame, from)
	}); err != nil {
		return err
	}

	for _, addr := range cfg.Node.ConnectPeers {
		if err := node.ConnectToPeer(addr); err != nil {
			logger.Warn("Failed to connect to configured peer", zap.String("addr", addr), zap.Error(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })

	if cfg.Metrics.ListenAddr != "" {
		reg := prometheus.NewRegistry()
		if err := metrics.Register(reg, engine); err != nil {
			return err
		}
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.Metrics.ListenAddr, reg, logger.Named(logging.ComponentMetrics))
		})
	}

	go func() {
		NewCLI(engine, node, history, os.Stdin, os.Stdout).Run(gctx)
		stop()
	}()

	return g.Wait()
}
