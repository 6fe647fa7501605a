package core

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/axiomesh/council/repo"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testGroup = "120363000000000001@g.us"
	testAdmin = "5511900000000@s.whatsapp.net"
	alice     = "5511911111111@s.whatsapp.net"
	bob       = "5511922222222@s.whatsapp.net"
	carol     = "5511933333333@s.whatsapp.net"
)

type fakeClock struct {
	now time.Time
}

func (fc *fakeClock) Now() time.Time { return fc.now }

func (fc *fakeClock) Advance(d time.Duration) { fc.now = fc.now.Add(d) }

// memoryBackend hands back the last saved document and can be told to fail.
type memoryBackend struct {
	doc   *Document
	fail  bool
	saves int
}

func (mb *memoryBackend) Load() (*Document, error) { return mb.doc, nil }

func (mb *memoryBackend) Save(doc *Document) error {
	if mb.fail {
		return errors.New("disk full")
	}
	mb.doc = doc
	mb.saves++
	return nil
}

func (mb *memoryBackend) Close() error { return nil }

type harness struct {
	council   *Council
	transport *MockTransport
	store     *DocumentStore
	backend   *memoryBackend
	clock     *fakeClock
}

func newHarness(t *testing.T, tweak ...func(*repo.Config)) *harness {
	t.Helper()

	cfg := repo.DefaultConfig(t.TempDir())
	cfg.Council.AdminID = testAdmin
	cfg.Log.Level = "debug"
	for _, f := range tweak {
		f(cfg)
	}

	backend := &memoryBackend{}
	store, err := NewDocumentStore(backend)
	require.Nil(t, err)

	mt := NewMockTransport()
	mt.Sizes[testGroup] = 4

	c, err := NewCouncil(context.Background(), cfg, mt, store, nil)
	require.Nil(t, err)

	clock := &fakeClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	c.SetClock(clock.Now)

	return &harness{council: c, transport: mt, store: store, backend: backend, clock: clock}
}

func (h *harness) say(sender, text string) []Reply {
	h.council.HandleEvent(Event{
		Kind:       TextEvent,
		ScopeID:    testGroup,
		ChatID:     testGroup,
		SenderID:   sender,
		SenderName: strings.Split(sender, "@")[0],
		Text:       text,
	})
	return h.transport.Replies()
}

func (h *harness) dm(sender, text string) []Reply {
	h.council.HandleEvent(Event{
		Kind:     TextEvent,
		ChatID:   sender,
		SenderID: sender,
		Text:     text,
		Direct:   true,
	})
	return h.transport.Replies()
}

func (h *harness) open(t *testing.T, creator, title string, choice int) *Proposal {
	t.Helper()
	_, err := h.council.BeginProposal(testGroup, creator, "creator", title)
	require.Nil(t, err)
	p, err := h.council.FinalizeProposal(creator, choice)
	require.Nil(t, err)
	return p
}

func texts(replies []Reply) string {
	var sb strings.Builder
	for _, r := range replies {
		sb.WriteString(r.ChatID + ": " + r.Text + "\n")
	}
	return sb.String()
}

func TestCreateAndFinalizeProposal(t *testing.T) {
	h := newHarness(t)

	replies := h.say(alice, "!pauta Churrasco de domingo 6h")
	require.Len(t, replies, 1)
	assert.Equal(t, testGroup, replies[0].ChatID)
	assert.Contains(t, replies[0].Text, "Churrasco de domingo")
	assert.Contains(t, replies[0].Text, "1, 2 or 3")

	draft := h.store.Draft(alice, h.clock.now)
	require.NotNil(t, draft)
	assert.Equal(t, Pending, draft.Proposal.Status)
	assert.Empty(t, h.store.Proposals(testGroup))

	replies = h.say(alice, "2")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "quorum 50%")

	ps := h.store.Proposals(testGroup)
	require.Len(t, ps, 1)
	p := ps[0]
	assert.Equal(t, Open, p.Status)
	assert.Equal(t, "Churrasco de domingo", p.Title)
	assert.Equal(t, alice, p.OpenedByID)
	assert.Equal(t, 6*time.Hour, p.Deadline.Sub(p.OpenedAt))
	assert.Equal(t, &ApprovalRule{Type: Quorum, QuorumPercent: 0.5}, p.Approval)
	assert.Len(t, p.ID, idLength)
	assert.Nil(t, h.store.Draft(alice, h.clock.now))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.council.Metrics.ProposalsCreated))
}

func TestCreateProposalDefaultWindow(t *testing.T) {
	h := newHarness(t)
	d, err := h.council.BeginProposal(testGroup, alice, "alice", "Nova pauta sem prazo")
	require.Nil(t, err)
	assert.Equal(t, "Nova pauta sem prazo", d.Proposal.Title)
	assert.Equal(t, 24*time.Hour, d.Proposal.Deadline.Sub(d.Proposal.OpenedAt))

	_, err = h.council.BeginProposal(testGroup, alice, "alice", "   ")
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestNewDraftReplacesPrevious(t *testing.T) {
	h := newHarness(t)
	h.say(alice, "!pauta First idea")
	h.say(alice, "!pauta Second idea")

	d := h.store.Draft(alice, h.clock.now)
	require.NotNil(t, d)
	assert.Equal(t, "Second idea", d.Proposal.Title)
}

func TestFinalizeExpiredDraft(t *testing.T) {
	h := newHarness(t)
	_, err := h.council.BeginProposal(testGroup, alice, "alice", "Late reply")
	require.Nil(t, err)

	h.clock.Advance(10*time.Minute + time.Second)
	_, err = h.council.FinalizeProposal(alice, 1)
	assert.ErrorIs(t, err, ErrExpiredOrMissingDraft)
	assert.Empty(t, h.store.Proposals(testGroup))

	// a bare digit with no live draft is ordinary chatter
	assert.Empty(t, h.say(alice, "1"))

	replies := h.say(alice, "!criticidade 1")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "expired")
}

func TestFinalizeInvalidChoice(t *testing.T) {
	h := newHarness(t)
	h.say(alice, "!pauta Something")

	replies := h.say(alice, "7")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "1 (low), 2 (medium) or 3 (high)")
	assert.NotNil(t, h.store.Draft(alice, h.clock.now), "draft survives an invalid choice")

	_, err := h.council.FinalizeProposal(alice, 0)
	assert.ErrorIs(t, err, ErrInvalidChoice)
}

func TestVoteChangeKeepsSingleReward(t *testing.T) {
	h := newHarness(t)
	p := h.open(t, alice, "Pintar a sala 6h", CriticalityMedium)

	replies := h.say(bob, "!votar "+p.ID+" sim")
	require.Len(t, replies, 2, texts(replies))
	assert.Equal(t, testGroup, replies[0].ChatID)
	assert.Contains(t, replies[0].Text, "YES")
	assert.Equal(t, bob, replies[1].ChatID, "confirmation goes to the voter directly")

	h.say(bob, "!vote "+p.ID+" no")
	h.say(bob, "!vote "+p.ID+" yes")

	assert.Equal(t, VoteRecord{Choice: Yes}, p.Votes[bob])
	u := h.store.User(bob)
	assert.Equal(t, 10, u.XP)
	assert.Equal(t, 1, u.VoteCount)
	assert.True(t, u.RewardedProposals[p.ID])
	require.NotNil(t, u.LastSeen)
	assert.Equal(t, float64(10), testutil.ToFloat64(h.council.Metrics.XPAwarded))
}

func TestVoteStatusWithoutChoice(t *testing.T) {
	h := newHarness(t)
	p := h.open(t, alice, "Reforma", CriticalityLow)

	replies := h.say(bob, "!vote "+p.ID)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "not voted")
	assert.Empty(t, p.Votes)

	h.say(bob, "!vote last no")
	replies = h.say(bob, "!vote last")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "NO")
	assert.Contains(t, replies[0].Text, "not locked")
}

func TestBareTokenVotesMostRecentOpen(t *testing.T) {
	h := newHarness(t)
	older := h.open(t, alice, "Older", CriticalityLow)
	h.clock.Advance(time.Minute)
	newer := h.open(t, alice, "Newer", CriticalityLow)

	h.say(bob, "Sim")
	h.say(carol, "👎")
	assert.Empty(t, older.Votes)
	assert.Equal(t, Yes, newer.Votes[bob].Choice)
	assert.Equal(t, No, newer.Votes[carol].Choice)

	// longer messages are not votes
	assert.Empty(t, h.say(bob, "sim, claro"))
}

func TestStickerLocksVote(t *testing.T) {
	h := newHarness(t, func(c *repo.Config) {
		c.Stickers.Lock = []string{"C0FFEE"}
		c.Stickers.No = []string{"bad1"}
	})
	p := h.open(t, alice, "Sticker vote", CriticalityLow)

	sticker := func(sender, hash string) []Reply {
		h.council.HandleEvent(Event{Kind: StickerEvent, ScopeID: testGroup, ChatID: testGroup, SenderID: sender, StickerHash: hash})
		return h.transport.Replies()
	}

	replies := sticker(bob, "c0ffee")
	require.NotEmpty(t, replies)
	assert.Equal(t, VoteRecord{Choice: Yes, Final: true}, p.Votes[bob])
	assert.Equal(t, 1, h.store.User(bob).VoteCount)

	replies = h.say(bob, "!vote "+p.ID+" no")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "locked")
	assert.Equal(t, VoteRecord{Choice: Yes, Final: true}, p.Votes[bob])

	sticker(carol, "bad1")
	assert.Equal(t, VoteRecord{Choice: No}, p.Votes[carol])
	sticker(carol, "c0ffee")
	assert.Equal(t, VoteRecord{Choice: No, Final: true}, p.Votes[carol])
	assert.Equal(t, 1, h.store.User(carol).VoteCount)

	assert.Empty(t, sticker(carol, "unknown"))
}

func TestLevelUpNotice(t *testing.T) {
	h := newHarness(t)
	p := h.open(t, alice, "Urgent 1h", CriticalityLow)
	h.store.User(bob).XP = 90

	replies := h.say(bob, "!vote "+p.ID+" yes")
	assert.Contains(t, texts(replies), "level 1")
	assert.Equal(t, 125, h.store.User(bob).XP)
}

func TestAmbiguousVoteMenu(t *testing.T) {
	h := newHarness(t)
	a := h.open(t, alice, "Reforma do telhado", CriticalityLow)
	h.clock.Advance(time.Minute)
	b := h.open(t, alice, "Reforma da garagem", CriticalityLow)

	replies := h.say(bob, "!vote reforma yes")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "1) Reforma do telhado")
	assert.Contains(t, replies[0].Text, "2) Reforma da garagem")
	assert.Empty(t, a.Votes)
	assert.Empty(t, b.Votes)

	h.say(bob, "!vote 2 yes")
	assert.Equal(t, Yes, b.Votes[bob].Choice)
	assert.Empty(t, a.Votes)

	h.clock.Advance(11 * time.Minute)
	replies = h.say(bob, "!vote 1 yes")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "No proposal matches")
	assert.Empty(t, a.Votes)
}

func TestTickResolvesExpiredProposals(t *testing.T) {
	h := newHarness(t)
	p := h.open(t, alice, "Quorum vote 1h", CriticalityMedium)
	h.say(alice, "!vote "+p.ID+" yes")
	h.say(bob, "!vote "+p.ID+" yes")
	h.say(carol, "!vote "+p.ID+" no")

	h.council.Tick()
	assert.Equal(t, Open, p.Status, "deadline not reached")
	assert.Empty(t, h.transport.Replies())

	h.clock.Advance(time.Hour)
	h.council.Tick()
	assert.Equal(t, Approved, p.Status)
	require.NotNil(t, p.Result)
	assert.Equal(t, Tally{Yes: 2, No: 1, GroupSize: 4}, *p.Result)
	require.NotNil(t, p.ResolvedAt)

	replies := h.transport.Replies()
	require.Len(t, replies, 1)
	assert.Equal(t, testGroup, replies[0].ChatID)
	assert.Contains(t, replies[0].Text, "APPROVED")

	// terminal proposals are never evaluated again
	h.clock.Advance(time.Hour)
	h.council.Tick()
	assert.Empty(t, h.transport.Replies())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.council.Metrics.ProposalsResolved.WithLabelValues("approved")))

	replies = h.say(bob, "!vote "+p.ID+" no")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "no longer open")
	assert.Equal(t, Yes, p.Votes[bob].Choice)
}

func TestTickOutcomes(t *testing.T) {
	h := newHarness(t)
	h.transport.Sizes[testGroup] = 10

	cancelled := h.open(t, alice, "Needs half 1h", CriticalityMedium)
	h.say(bob, "!vote "+cancelled.ID+" yes")

	tied := h.open(t, alice, "Needs a quarter 1h", CriticalityLow)
	h.say(alice, "!vote "+tied.ID+" yes")
	h.say(bob, "!vote "+tied.ID+" no")
	h.say(carol, "!vote "+tied.ID+" yes")
	h.say(testAdmin, "!vote "+tied.ID+" no")

	unanimous := h.open(t, alice, "Everyone 1h", CriticalityHigh)
	h.say(alice, "!vote "+unanimous.ID+" yes")

	h.transport.Replies()
	h.clock.Advance(2 * time.Hour)
	h.council.Tick()

	assert.Equal(t, Cancelled, cancelled.Status)
	assert.Equal(t, Tied, tied.Status)
	assert.Equal(t, Rejected, unanimous.Status)
	assert.Len(t, h.transport.Replies(), 3)
}

func TestTickPostponesWhenGroupSizeUnknown(t *testing.T) {
	h := newHarness(t)
	p := h.open(t, alice, "Size lookup 1h", CriticalityLow)
	h.say(alice, "!vote "+p.ID+" yes")

	h.transport.SizeErr = errors.New("gateway offline")
	h.clock.Advance(2 * time.Hour)
	h.council.Tick()
	assert.Equal(t, Open, p.Status)
	assert.Empty(t, h.transport.Replies())

	h.transport.SizeErr = nil
	h.council.Tick()
	assert.Equal(t, Approved, p.Status)
}

func TestAdminCloseAndReopen(t *testing.T) {
	h := newHarness(t)
	p := h.open(t, alice, "Admin flow", CriticalityMedium)

	replies := h.say(bob, "!close "+p.ID)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "Restricted")
	assert.Equal(t, Open, p.Status)

	replies = h.say(testAdmin, "!encerrar "+p.ID)
	assert.Equal(t, Cancelled, p.Status, texts(replies))
	assert.Contains(t, texts(replies), "lack of quorum")

	replies = h.say(bob, "!reopen "+p.ID)
	assert.Contains(t, texts(replies), "Restricted")

	h.say(testAdmin, "!reabrir "+p.ID)
	ps := h.store.Proposals(testGroup)
	require.Len(t, ps, 2)
	fresh := ps[1]
	assert.NotEqual(t, p.ID, fresh.ID)
	assert.Equal(t, Open, fresh.Status)
	assert.Equal(t, p.Title, fresh.Title)
	assert.Equal(t, p.Approval, fresh.Approval)
	assert.Equal(t, 24*time.Hour, fresh.Deadline.Sub(fresh.OpenedAt))
	assert.Equal(t, Cancelled, p.Status, "the original stays terminal")

	replies = h.say(testAdmin, "!reopen "+fresh.ID)
	assert.Contains(t, texts(replies), "only cancelled or tied")
}

func TestCountAndList(t *testing.T) {
	h := newHarness(t)
	assert.Contains(t, texts(h.say(bob, "!contagem")), "no open proposals")
	assert.Contains(t, texts(h.say(bob, "!pautas")), "No proposals")

	p := h.open(t, alice, "Count me 2h", CriticalityLow)
	h.say(alice, "!vote "+p.ID+" yes")
	h.say(bob, "!vote "+p.ID+" no")
	h.say(carol, "!travar")

	out := texts(h.say(bob, "!count"))
	assert.Contains(t, out, "Yes: 2 | ❌ No: 1 | 🔒 Locked: 1")
	assert.Contains(t, out, "2h 0m left")

	for i := 0; i < 14; i++ {
		h.clock.Advance(time.Minute)
		h.open(t, alice, "Filler", CriticalityHigh)
	}
	out = texts(h.say(bob, "!list-proposals"))
	assert.Equal(t, 12, strings.Count(out, "• "))
	assert.NotContains(t, out, p.ID)
	assert.Contains(t, out, "rule: unanimity")
}

func TestMeAndSetName(t *testing.T) {
	h := newHarness(t)
	assert.Contains(t, texts(h.say(bob, "!setnome")), "usage")

	assert.Contains(t, texts(h.say(bob, "!setname Roberto  Silva")), "Name set: Roberto Silva")
	assert.Equal(t, "Roberto Silva", h.store.User(bob).Name)
	assert.Contains(t, texts(h.say(bob, "!setname Beto")), "'Roberto Silva' → 'Beto'")

	h.store.User(bob).XP = 350
	out := texts(h.say(bob, "!me"))
	assert.Contains(t, out, "Beto")
	assert.Contains(t, out, "*Level 2* (Councillor)")
	assert.Contains(t, out, "XP: 350 (50/300)")
}

func TestRanking(t *testing.T) {
	h := newHarness(t)
	h.transport.Names[carol] = "Carol"
	p1 := h.open(t, alice, "One 6h", CriticalityLow)
	p2 := h.open(t, alice, "Two 1h", CriticalityLow)

	h.say(bob, "!vote "+p1.ID+" yes")
	h.say(carol, "!vote "+p1.ID+" yes")
	h.say(carol, "!vote "+p2.ID+" no")
	h.store.User("ghost@s.whatsapp.net")

	out := texts(h.say(alice, "!ranking"))
	assert.Less(t, strings.Index(out, "1) "), strings.Index(out, "Carol"))
	assert.Less(t, strings.Index(out, "Carol"), strings.Index(out, "2) "))
	assert.Contains(t, out, "Votes: 2")
	assert.NotContains(t, out, "ghost")
}

func TestDirectMessagesUseConfiguredGroup(t *testing.T) {
	h := newHarness(t)
	assert.Contains(t, texts(h.dm(bob, "!pautas")), "needs a group")
	assert.Contains(t, texts(h.dm(bob, "!help")), "main commands")

	h = newHarness(t, func(c *repo.Config) { c.Council.GroupID = testGroup })
	h.dm(alice, "!pauta From my DM 3h")
	replies := h.dm(alice, "3")
	require.Len(t, replies, 2, texts(replies))
	assert.Equal(t, alice, replies[0].ChatID)
	assert.Equal(t, testGroup, replies[1].ChatID, "the group is told about the new proposal")

	ps := h.store.Proposals(testGroup)
	require.Len(t, ps, 1)
	assert.Equal(t, Unanimity, ps[0].Approval.Type)
}

func TestPersistenceFailureIsNotReportedAsSuccess(t *testing.T) {
	h := newHarness(t)
	p := h.open(t, alice, "Flaky disk", CriticalityLow)

	h.backend.fail = true
	replies := h.say(bob, "!vote "+p.ID+" yes")
	require.Len(t, replies, 1, "no confirmation DM after a failed write")
	assert.Contains(t, replies[0].Text, "Could not save")
	assert.Equal(t, float64(1), testutil.ToFloat64(h.council.Metrics.CommandErrors.WithLabelValues("vote")))

	h.backend.fail = false
	h.say(bob, "!me")
	assert.True(t, h.backend.doc.Users[bob].RewardedProposals[p.ID], "a later flush persists the pending change")
}

func TestUnknownCommandsAreIgnored(t *testing.T) {
	h := newHarness(t)
	assert.Empty(t, h.say(bob, "!dance"))
	assert.Empty(t, h.say(bob, "hello everyone"))
}

func TestSweepPurgesExpiredEntries(t *testing.T) {
	h := newHarness(t)
	h.say(alice, "!pauta Forgotten")
	h.open(t, bob, "Reforma A", CriticalityLow)
	h.open(t, bob, "Reforma B", CriticalityLow)
	h.say(carol, "!vote reforma")

	saves := h.backend.saves
	h.council.Sweep()
	assert.Equal(t, saves, h.backend.saves, "nothing expired yet")

	h.clock.Advance(time.Hour)
	h.council.Sweep()
	assert.Equal(t, saves+1, h.backend.saves)
	assert.Empty(t, h.backend.doc.PendingProposals)
	assert.Empty(t, h.backend.doc.PendingSelections)
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, func(c *repo.Config) {
		c.Scheduler.TickInterval = 10 * time.Millisecond
	})
	require.Nil(t, h.council.Start())

	h.transport.Push(Event{Kind: TextEvent, ScopeID: testGroup, ChatID: testGroup, SenderID: bob, Text: "!help"})

	var got []Reply
	assert.Eventually(t, func() bool {
		got = append(got, h.transport.Replies()...)
		return len(got) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, texts(got), "main commands")

	require.Nil(t, h.council.Stop())
}

func TestChatterMarksSendersSeen(t *testing.T) {
	h := newHarness(t)
	assert.Empty(t, h.say(bob, "hello everyone"))
	assert.Empty(t, h.say(carol, "!dance"))
	assert.Empty(t, h.dm(alice, "hi there"))

	seen := lo.Map(h.store.Users(), func(u *User, _ int) string { return u.ID })
	assert.Contains(t, seen, bob)
	assert.Contains(t, seen, carol)
	assert.NotContains(t, seen, alice, "plain direct messages are not tracked")

	require.NotNil(t, h.backend.doc.Users[bob].LastSeen)
	assert.True(t, h.backend.doc.Users[bob].LastSeen.Equal(h.clock.now))
}

func TestTimeLeftRoundsUp(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "1m left", timeLeft(now.Add(20*time.Second), now))
	assert.Equal(t, "2m left", timeLeft(now.Add(61*time.Second), now))
	assert.Equal(t, "1h 0m left", timeLeft(now.Add(time.Hour), now))
	assert.Equal(t, "1h 1m left", timeLeft(now.Add(time.Hour+30*time.Second), now))
	assert.Equal(t, "1d 1h left", timeLeft(now.Add(25*time.Hour), now))
	assert.Equal(t, "expired", timeLeft(now, now))
}

func TestStickerHashForms(t *testing.T) {
	assert.Equal(t, "2a70ff", stickerKey("42,112,255"))
	assert.Equal(t, "2a70ff", stickerKey(" 2A70FF "))
	assert.Equal(t, "1,999", stickerKey("1,999"))
	assert.Equal(t, "", stickerKey("  "))

	h := newHarness(t, func(c *repo.Config) {
		c.Stickers.Yes = []string{"42,112,255"}
		c.Stickers.No = []string{"", "C0FFEE"}
	})
	p := h.open(t, alice, "Sticker forms", CriticalityLow)
	sticker := func(sender, hash string) []Reply {
		h.council.HandleEvent(Event{Kind: StickerEvent, ScopeID: testGroup, ChatID: testGroup, SenderID: sender, StickerHash: hash})
		return h.transport.Replies()
	}

	assert.NotEmpty(t, sticker(bob, "2A70FF"))
	assert.Equal(t, VoteRecord{Choice: Yes}, p.Votes[bob])

	assert.NotEmpty(t, sticker(carol, "192,255,238"))
	assert.Equal(t, VoteRecord{Choice: No}, p.Votes[carol])

	assert.Empty(t, sticker(testAdmin, ""))
	_, voted := p.Votes[testAdmin]
	assert.False(t, voted)
}

// blockingTransport holds Send until released.
type blockingTransport struct {
	*MockTransport
	entered chan struct{}
	release chan struct{}
}

func (bt *blockingTransport) Send(ctx context.Context, chatID, text string) error {
	select {
	case bt.entered <- struct{}{}:
	default:
	}
	<-bt.release
	return bt.MockTransport.Send(ctx, chatID, text)
}

type closeCountingBackend struct {
	memoryBackend
	closed int
}

func (cb *closeCountingBackend) Close() error {
	cb.closed++
	return nil
}

func TestStopLeavesStoreWhenLoopIsBusy(t *testing.T) {
	cfg := repo.DefaultConfig(t.TempDir())
	backend := &closeCountingBackend{}
	store, err := NewDocumentStore(backend)
	require.Nil(t, err)
	bt := &blockingTransport{MockTransport: NewMockTransport(), entered: make(chan struct{}, 1), release: make(chan struct{})}

	c, err := NewCouncil(context.Background(), cfg, bt, store, nil)
	require.Nil(t, err)
	c.stopTimeout = 50 * time.Millisecond
	require.Nil(t, c.Start())

	bt.Push(Event{Kind: TextEvent, ScopeID: testGroup, ChatID: testGroup, SenderID: bob, Text: "!help"})
	select {
	case <-bt.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("reply was never sent")
	}

	assert.NotNil(t, c.Stop())
	assert.Equal(t, 0, backend.closed)

	close(bt.release)
	<-c.done
}

// jsonBackend keeps an encoded copy, so reloads return fresh objects like a real store.
type jsonBackend struct {
	data []byte
	fail bool
}

func (jb *jsonBackend) Load() (*Document, error) {
	if jb.data == nil {
		return nil, nil
	}
	doc := &Document{}
	return doc, json.Unmarshal(jb.data, doc)
}

func (jb *jsonBackend) Save(doc *Document) error {
	if jb.fail {
		return errors.New("disk full")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	jb.data = data
	return nil
}

func (jb *jsonBackend) Close() error { return nil }

func (jb *jsonBackend) user(t *testing.T, id string) *User {
	t.Helper()
	doc, err := jb.Load()
	require.Nil(t, err)
	require.NotNil(t, doc)
	return doc.Users[id]
}

func TestReloadKeepsUnsavedChanges(t *testing.T) {
	cfg := repo.DefaultConfig(t.TempDir())
	backend := &jsonBackend{}
	store, err := NewDocumentStore(backend)
	require.Nil(t, err)
	mt := NewMockTransport()
	mt.Sizes[testGroup] = 4
	c, err := NewCouncil(context.Background(), cfg, mt, store, nil)
	require.Nil(t, err)

	say := func(text string) []Reply {
		c.HandleEvent(Event{Kind: TextEvent, ScopeID: testGroup, ChatID: testGroup, SenderID: bob, Text: text})
		return mt.Replies()
	}

	backend.fail = true
	replies := say("!setname Bob Builder")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "Could not save")

	// a reloading command writes the pending change before reading back
	backend.fail = false
	say("!pautas")
	require.NotNil(t, backend.user(t, bob))
	assert.Equal(t, "Bob Builder", backend.user(t, bob).Name)

	backend.fail = true
	say("!setname Robert")
	backend.fail = false
	c.Tick()
	assert.Equal(t, "Robert", backend.user(t, bob).Name)
}
