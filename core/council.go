package core

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/axiomesh/axiom-kit/log"
	"github.com/axiomesh/council/repo"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	EventChanMaxSize = 1000

	idLength = 5

	sendRetries = 3
)

type Council struct {
	Ctx       context.Context
	Transport Transport
	Logger    *logrus.Logger
	Store     Store
	Config    *repo.Config
	Metrics   *Metrics

	EventChan chan Event
	EventSub  Subscription

	resolver *Resolver
	tokens   *TokenSet
	stickers map[string]stickerAction
	commands map[string]*command
	scaling  XPScaling

	// set when the in-memory document has unsaved changes
	dirty bool

	now         func() time.Time
	cancel      context.CancelFunc
	done        chan struct{}
	stopTimeout time.Duration
}

func NewCouncil(ctx context.Context, config *repo.Config, transport Transport, store Store, metrics *Metrics) (*Council, error) {
	if store == nil {
		return nil, errors.New("council needs a store")
	}
	logger := log.New()
	logger.SetLevel(log.ParseLevel(config.Log.Level))

	if metrics == nil {
		metrics = NewMetrics()
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Council{
		Ctx:       ctx,
		Transport: transport,
		Logger:    logger,
		Store:     store,
		Config:    config,
		Metrics:   metrics,
		EventChan: make(chan Event, EventChanMaxSize),
		resolver:  NewResolver(store, config.Vote.MaxCandidates, config.Vote.SelectionTTL),
		tokens:    NewTokenSet(config.Vote.YesTokens, config.Vote.NoTokens),
		stickers:  buildStickers(config.Stickers),
		scaling: XPScaling{
			K:       config.XP.K,
			MinMult: config.XP.MinMult,
			MaxMult: config.XP.MaxMult,
		},
		now:         time.Now,
		cancel:      cancel,
		done:        make(chan struct{}),
		stopTimeout: 5 * time.Second,
	}
	c.commands = c.commandTable()

	return c, nil
}

// SetClock overrides the time source.
func (c *Council) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Council) Start() error {
	sub, err := c.Transport.Subscribe(c.Ctx, c.EventChan)
	if err != nil {
		return errors.Wrap(err, "subscribe events")
	}
	c.EventSub = sub

	go c.listenEvents()

	return nil
}

func (c *Council) listenEvents() {
	defer close(c.done)
	c.Logger.Info("listen events")

	deadlines := time.NewTicker(c.Config.Scheduler.TickInterval)
	defer deadlines.Stop()
	cleanup := time.NewTicker(c.Config.Scheduler.CleanupInterval)
	defer cleanup.Stop()

	c.Tick()

	for {
		select {
		case <-c.Ctx.Done():
			c.Logger.Info("context done")
			return
		case ev := <-c.EventChan:
			c.HandleEvent(ev)
		case <-deadlines.C:
			c.Tick()
		case <-cleanup.C:
			c.Sweep()
		}
	}
}

// Stop ends the event loop, then flushes and closes the store.
// When the loop does not exit within stopTimeout the store is left untouched.
func (c *Council) Stop() error {
	c.cancel()
	if c.EventSub != nil {
		if err := c.EventSub.Unsubscribe(); err != nil {
			c.Logger.Warnf("unsubscribe events: %s", err)
		}
		select {
		case <-c.done:
		case <-time.After(c.stopTimeout):
			return errors.New("event loop did not stop in time")
		}
	}

	if err := c.flush(); err != nil {
		c.Logger.Errorf("final flush: %s", err)
	}
	return c.Store.Close()
}

// Tick resolves every open proposal whose deadline has passed.
func (c *Council) Tick() {
	start := time.Now()
	defer func() {
		c.Metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	if err := c.reload(); err != nil {
		c.Logger.Errorf("reload before deadline sweep: %s", err)
		return
	}

	now := c.now()
	open := c.Store.OpenProposals()
	c.Metrics.OpenProposals.Set(float64(len(open)))

	var announcements []Reply
	for _, p := range open {
		if !p.Expired(now) {
			continue
		}
		if text, ok := c.resolveProposal(p, now); ok {
			announcements = append(announcements, Reply{ChatID: p.ScopeID, Text: text})
		}
	}
	if len(announcements) == 0 {
		return
	}

	c.markDirty()
	if err := c.flush(); err != nil {
		c.Logger.WithError(err).WithField("resolved", len(announcements)).Error("flush after deadline sweep")
		return
	}
	c.Metrics.OpenProposals.Sub(float64(len(announcements)))
	for _, a := range announcements {
		c.send(a.ChatID, a.Text)
	}
}

// resolveProposal evaluates p against the live group size and returns the announcement.
// It reports false when the size is unknown, leaving p open for the next tick.
func (c *Council) resolveProposal(p *Proposal, now time.Time) (string, bool) {
	logger := c.Logger.WithFields(logrus.Fields{"scope": p.ScopeID, "proposal": p.ID})

	size, err := c.Transport.GroupSize(c.Ctx, p.ScopeID)
	if err == nil && size <= 0 {
		err = errors.Errorf("group reported %d members", size)
	}
	if err != nil {
		logger.WithError(err).Warn("group size unavailable, resolution postponed")
		return "", false
	}

	tally := p.Tally()
	tally.GroupSize = size
	verdict := Resolve(tally, p.Approval, size, c.Config.Vote.FallbackQuorum)

	resolvedAt := now
	p.Status = verdict.Status
	p.ResolvedAt = &resolvedAt
	p.Result = &tally

	c.Metrics.ProposalsResolved.WithLabelValues(string(verdict.Status)).Inc()
	logger.WithFields(logrus.Fields{
		"status": verdict.Status,
		"yes":    tally.Yes,
		"no":     tally.No,
		"size":   size,
	}).Info("proposal resolved")

	return formatVerdict(p, verdict), true
}

// Sweep purges expired drafts and selections.
func (c *Council) Sweep() {
	removed := c.Store.SweepExpired(c.now())
	if removed == 0 {
		return
	}
	c.Logger.Debugf("swept %d expired cache entries", removed)
	c.markDirty()
	if err := c.flush(); err != nil {
		c.Logger.Errorf("flush after sweep: %s", err)
	}
}

// send delivers text, retrying transient transport failures.
func (c *Council) send(chatID, text string) {
	if chatID == "" || text == "" {
		return
	}
	action := func(attempt uint) error {
		return c.Transport.Send(c.Ctx, chatID, text)
	}
	if err := retry.Retry(action, strategy.Limit(sendRetries), strategy.Backoff(backoff.Fibonacci(100*time.Millisecond))); err != nil {
		c.Logger.WithError(err).WithField("chat", chatID).Error("send reply")
	}
}

// newProposalID returns a short id unused within scopeID.
func (c *Council) newProposalID(scopeID string) (string, error) {
	for {
		id, err := gonanoid.New(idLength)
		if err != nil {
			return "", errors.Wrap(err, "generate proposal id")
		}
		if c.Store.Proposal(scopeID, id) == nil {
			return id, nil
		}
	}
}

type stickerAction int

const (
	stickerYes stickerAction = iota + 1
	stickerNo
	stickerLock
)

// buildStickers keys every configured hash by its lower-case hex form.
// The first list a hash appears in wins.
func buildStickers(s repo.Stickers) map[string]stickerAction {
	m := make(map[string]stickerAction)
	add := func(hashes []string, a stickerAction) {
		for _, h := range hashes {
			key := stickerKey(h)
			if _, taken := m[key]; key == "" || taken {
				continue
			}
			m[key] = a
		}
	}
	add(s.Yes, stickerYes)
	add(s.No, stickerNo)
	add(s.Lock, stickerLock)
	return m
}

// stickerKey normalizes a sticker hash given either as hex or as a
// comma-separated list of byte values ("42,112,...").
func stickerKey(hash string) string {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if !strings.Contains(hash, ",") {
		return hash
	}
	parts := strings.Split(hash, ",")
	buf := make([]byte, 0, len(parts))
	for _, part := range parts {
		b, err := strconv.ParseUint(strings.TrimSpace(part), 10, 8)
		if err != nil {
			return hash
		}
		buf = append(buf, byte(b))
	}
	return hex.EncodeToString(buf)
}

func formatVerdict(p *Proposal, v Verdict) string {
	t := p.Result
	switch v.Status {
	case Approved:
		if p.Approval != nil && p.Approval.Type == Unanimity {
			return fmt.Sprintf("🏁 Proposal *%s* APPROVED unanimously (✅ %d | ❌ %d).", p.Title, t.Yes, t.No)
		}
		return fmt.Sprintf("🏁 Proposal *%s* APPROVED. Final result: ✅ %d | ❌ %d.", p.Title, t.Yes, t.No)
	case Rejected:
		if p.Approval != nil && p.Approval.Type == Unanimity {
			return fmt.Sprintf("🏁 Proposal *%s* REJECTED, unanimity not reached (✅ %d | ❌ %d).", p.Title, t.Yes, t.No)
		}
		return fmt.Sprintf("🏁 Proposal *%s* REJECTED. Final result: ✅ %d | ❌ %d.", p.Title, t.Yes, t.No)
	case Cancelled:
		return fmt.Sprintf("🚫 Proposal *%s* cancelled for lack of quorum (%d/%d, %d needed). It can be reopened.", p.Title, t.Voters(), t.GroupSize, v.Needed)
	case Tied:
		return fmt.Sprintf("⚖️ Proposal *%s* tied (%d x %d). The proposer should submit a new proposal.", p.Title, t.Yes, t.No)
	}
	return ""
}
