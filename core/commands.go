package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

const (
	rankingLimit   = 50
	titleListWidth = 60
	progressWidth  = 12
)

type command struct {
	name    string
	aliases []string
	// only the configured administrator may run it
	admin bool
	// needs a group, either the event's or the configured one
	scoped bool
	// re-read the store before running
	reload bool
	run    func(req *request) (string, error)
}

type request struct {
	ev      Event
	name    string
	scopeID string
	user    *User
	args    string
	now     time.Time

	notices []Reply
}

// notify queues a message that is only sent once the operation has been persisted.
func (r *request) notify(chatID, text string) {
	r.notices = append(r.notices, Reply{ChatID: chatID, Text: text})
}

func (c *Council) commandTable() map[string]*command {
	cmds := []*command{
		{name: "create-proposal", aliases: []string{"pauta"}, scoped: true, run: c.cmdCreateProposal},
		{name: "criticality", aliases: []string{"criticidade"}, run: c.cmdCriticality},
		{name: "vote", aliases: []string{"votar"}, scoped: true, run: c.cmdVote},
		{name: "lock", aliases: []string{"travar"}, scoped: true, run: c.cmdLock},
		{name: "count", aliases: []string{"contagem"}, scoped: true, run: c.cmdCount},
		{name: "list-proposals", aliases: []string{"pautas"}, scoped: true, reload: true, run: c.cmdList},
		{name: "me", run: c.cmdMe},
		{name: "ranking", scoped: true, reload: true, run: c.cmdRanking},
		{name: "setname", aliases: []string{"setnome"}, run: c.cmdSetName},
		{name: "close", aliases: []string{"encerrar"}, admin: true, scoped: true, reload: true, run: c.cmdClose},
		{name: "reopen", aliases: []string{"reabrir"}, admin: true, scoped: true, reload: true, run: c.cmdReopen},
		{name: "help", aliases: []string{"ajuda"}, run: c.cmdHelp},
	}

	table := make(map[string]*command)
	for _, cmd := range cmds {
		table[cmd.name] = cmd
		for _, a := range cmd.aliases {
			table[a] = cmd
		}
	}
	return table
}

// HandleEvent classifies one inbound event, runs the matching operation, persists and replies.
func (c *Council) HandleEvent(ev Event) {
	req := &request{ev: ev, scopeID: ev.ScopeID, now: c.now()}
	if req.scopeID == "" {
		req.scopeID = c.Config.Council.GroupID
	}

	run := c.classify(req)
	if run == nil {
		// chatter in a group and unknown commands still mark the sender as seen
		if ev.SenderID != "" && ((!ev.Direct && ev.ScopeID != "") || c.prefixed(ev.Text)) {
			c.touch(req)
			if err := c.flush(); err != nil {
				c.Logger.WithError(err).WithField("voter", ev.SenderID).Warn("persist last seen")
			}
		}
		return
	}

	logger := c.Logger.WithFields(logrus.Fields{
		"scope":   req.scopeID,
		"voter":   ev.SenderID,
		"command": req.name,
	})
	logger.Debug("handle command")

	c.touch(req)

	reply, err := run(req)
	if ferr := c.flush(); ferr != nil && err == nil {
		err = ferr
	}
	if err != nil {
		c.Metrics.CommandErrors.WithLabelValues(req.name).Inc()
		reply = c.errorReply(logger, req, err)
		req.notices = nil
	}

	c.send(ev.ChatID, reply)
	for _, n := range req.notices {
		c.send(n.ChatID, n.Text)
	}
}

// classify returns the handler for the event, or nil when the event is ordinary chatter.
func (c *Council) classify(req *request) func(*request) (string, error) {
	ev := req.ev
	switch ev.Kind {
	case StickerEvent:
		key := stickerKey(ev.StickerHash)
		action, ok := c.stickers[key]
		if key == "" || !ok || req.scopeID == "" {
			return nil
		}
		if MostRecentOpen(c.Store.Proposals(req.scopeID)) == nil {
			return nil
		}
		req.name = "sticker"
		return func(req *request) (string, error) {
			return c.stickerVote(req, action)
		}

	case TextEvent:
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return nil
		}

		if c.prefixed(text) {
			word := strings.Fields(text)[0]
			cmd, ok := c.commands[NormalizeText(strings.TrimPrefix(word, c.prefix()))]
			if !ok {
				return nil
			}
			req.name = cmd.name
			req.args = strings.TrimSpace(text[len(word):])
			return c.guarded(cmd)
		}

		if _, err := strconv.Atoi(text); err == nil {
			// digits only mean something to a creator with a live draft
			if c.Store.Draft(ev.SenderID, req.now) != nil {
				req.name = "criticality"
				req.args = text
				return c.cmdCriticality
			}
			return nil
		}

		if choice, ok := c.tokens.Choice(text); ok && !strings.ContainsAny(text, " \t") && req.scopeID != "" {
			if MostRecentOpen(c.Store.Proposals(req.scopeID)) == nil {
				return nil
			}
			req.name = "quick-vote"
			return func(req *request) (string, error) {
				p := MostRecentOpen(c.Store.Proposals(req.scopeID))
				return c.castVote(req, p, choice)
			}
		}
	}
	return nil
}

func (c *Council) guarded(cmd *command) func(*request) (string, error) {
	return func(req *request) (string, error) {
		if cmd.admin && !c.isAdmin(req.ev.SenderID) {
			return "", ErrNotAdmin
		}
		if cmd.scoped && req.scopeID == "" {
			return "", validationf("this command needs a group: run it in the group or configure council.group_id")
		}
		if cmd.reload {
			if err := c.reload(); err != nil {
				return "", err
			}
			// the reload replaced the user record
			c.touch(req)
		}
		return cmd.run(req)
	}
}

func (c *Council) isAdmin(senderID string) bool {
	return c.Config.Council.AdminID != "" && senderID == c.Config.Council.AdminID
}

// BeginProposal parses rawText into a draft and parks it for the creator's criticality choice.
func (c *Council) BeginProposal(scopeID, creatorID, creatorName, rawText string) (*PendingProposal, error) {
	if scopeID == "" {
		return nil, validationf("proposals can only be created for a group")
	}
	title, window, err := SplitTitleWindow(rawText, c.Config.Vote.DefaultWindow)
	if err != nil {
		return nil, err
	}
	id, err := c.newProposalID(scopeID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	draft := &PendingProposal{
		Proposal: &Proposal{
			ID:         id,
			Title:      title,
			ScopeID:    scopeID,
			OpenedBy:   creatorName,
			OpenedByID: creatorID,
			OpenedAt:   now,
			Deadline:   now.Add(window),
			Status:     Pending,
			Votes:      map[string]VoteRecord{},
		},
		ExpiresAt: now.Add(c.Config.Vote.DraftTTL),
	}
	c.Store.PutDraft(creatorID, draft)
	c.markDirty()
	if err := c.flush(); err != nil {
		return nil, err
	}
	return draft, nil
}

// FinalizeProposal opens the creator's draft under the rule picked by choice.
func (c *Council) FinalizeProposal(creatorID string, choice int) (*Proposal, error) {
	draft := c.Store.Draft(creatorID, c.now())
	if draft == nil {
		return nil, ErrExpiredOrMissingDraft
	}
	rule, ok := RuleForCriticality(choice)
	if !ok {
		return nil, ErrInvalidChoice
	}

	p := draft.Proposal
	if c.Store.Proposal(p.ScopeID, p.ID) != nil {
		id, err := c.newProposalID(p.ScopeID)
		if err != nil {
			return nil, err
		}
		p.ID = id
	}
	p.Approval = rule
	p.Status = Open
	c.Store.AddProposal(p)
	c.Store.DeleteDraft(creatorID)
	c.markDirty()
	if err := c.flush(); err != nil {
		return nil, err
	}

	c.Metrics.ProposalsCreated.Inc()
	c.Metrics.OpenProposals.Inc()
	c.Logger.WithFields(logrus.Fields{"scope": p.ScopeID, "proposal": p.ID, "rule": rule.String()}).Info("proposal opened")
	return p, nil
}

func (c *Council) cmdCreateProposal(req *request) (string, error) {
	if req.args == "" {
		return "", validationf("usage: %screate-proposal <title> [<window>], e.g. %screate-proposal Team dinner 48h", c.prefix(), c.prefix())
	}
	draft, err := c.BeginProposal(req.scopeID, req.ev.SenderID, c.displayName(req), req.args)
	if err != nil {
		return "", err
	}

	minutes := int(c.Config.Vote.DraftTTL.Minutes())
	lines := []string{
		fmt.Sprintf("📝 Creating proposal: *%s*", draft.Proposal.Title),
		"Pick its criticality by replying with the matching number (1, 2 or 3):",
		"1) Low — needs fewer votes (quorum: 25%)",
		"2) Medium — needs more votes (quorum: 50%)",
		"3) High — needs unanimity (everyone must agree)",
		fmt.Sprintf("This choice expires in %d minutes.", minutes),
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Council) cmdCriticality(req *request) (string, error) {
	n, err := strconv.Atoi(strings.TrimSpace(req.args))
	if err != nil {
		n = 0
	}
	p, err := c.FinalizeProposal(req.ev.SenderID, n)
	if err != nil {
		return "", err
	}

	reply := fmt.Sprintf("✅ Proposal created: *%s* (id: %s). Approval rule: %s. Voting closes %s. Use %svote %s yes|no to vote.",
		p.Title, p.ID, p.Approval, formatTime(p.Deadline), c.prefix(), p.ID)
	if req.ev.Direct || req.ev.ChatID != p.ScopeID {
		req.notify(p.ScopeID, reply)
	}
	return reply, nil
}

func (c *Council) cmdVote(req *request) (string, error) {
	args, err := c.tokens.ParseVoteArgs(req.args)
	if err != nil {
		return "", err
	}
	p, err := c.resolveTarget(req, args.Reference)
	if err != nil {
		return "", err
	}

	if args.Choice == nil {
		rec, ok := p.Votes[req.user.ID]
		if !ok {
			return fmt.Sprintf("ℹ️ You have not voted on *%s* (id: %s) yet. Use %svote %s yes|no.", p.Title, p.ID, c.prefix(), p.ID), nil
		}
		state := "not locked, you can still change it"
		if rec.Final {
			state = "locked"
		}
		return fmt.Sprintf("🗳️ Your vote on *%s* (id: %s): *%s* (%s).", p.Title, p.ID, choiceLabel(rec.Choice), state), nil
	}
	return c.castVote(req, p, *args.Choice)
}

func (c *Council) cmdLock(req *request) (string, error) {
	ref := req.args
	if ref == "" {
		ref = "last"
	}
	p, err := c.resolveTarget(req, ref)
	if err != nil {
		return "", err
	}
	return c.lock(req, p)
}

func (c *Council) stickerVote(req *request, action stickerAction) (string, error) {
	p := MostRecentOpen(c.Store.Proposals(req.scopeID))
	if p == nil {
		return "", &NotFoundError{Reference: "last"}
	}
	switch action {
	case stickerYes:
		return c.castVote(req, p, Yes)
	case stickerNo:
		return c.castVote(req, p, No)
	default:
		return c.lock(req, p)
	}
}

func (c *Council) resolveTarget(req *request, ref string) (*Proposal, error) {
	p, err := c.resolver.ResolveTarget(req.scopeID, req.ev.SenderID, ref, req.now)
	var am *AmbiguousMatchError
	if errors.As(err, &am) {
		// the selection menu was cached
		c.markDirty()
	}
	return p, err
}

func (c *Council) castVote(req *request, p *Proposal, choice Choice) (string, error) {
	xp := XPForProposal(p.OpenedAt, p.Deadline, c.Config.XP.Base, c.scaling)
	award, err := ApplyVote(p, req.user, choice, xp, req.now)
	if err != nil {
		return "", err
	}
	c.markDirty()
	c.Metrics.VotesCast.WithLabelValues(string(choice)).Inc()
	c.afterAward(req, award)

	name := c.displayName(req)
	if !req.ev.Direct {
		req.notify(req.ev.SenderID, fmt.Sprintf("%s Your vote was saved: *%s* on %s.", choiceIcon(choice), choiceLabel(choice), p.Title))
	}
	return fmt.Sprintf("%s %s, your vote on *%s* was recorded: *%s*.", choiceIcon(choice), name, p.Title, choiceLabel(choice)), nil
}

func (c *Council) lock(req *request, p *Proposal) (string, error) {
	prior, had := p.Votes[req.user.ID]
	xp := XPForProposal(p.OpenedAt, p.Deadline, c.Config.XP.Base, c.scaling)
	award, err := LockVote(p, req.user, xp, req.now)
	if err != nil {
		return "", err
	}
	name := c.displayName(req)
	if had && prior.Final {
		return fmt.Sprintf("🔒 %s, your vote on *%s* was already locked.", name, p.Title), nil
	}

	c.markDirty()
	c.Metrics.VotesCast.WithLabelValues("lock").Inc()
	c.afterAward(req, award)
	if !had {
		return fmt.Sprintf("🛡️ %s, you had no previous vote: recorded *YES* and locked it on *%s*.", name, p.Title), nil
	}
	return fmt.Sprintf("🛡️ %s, your vote on *%s* is now locked: *%s*.", name, p.Title, choiceLabel(prior.Choice)), nil
}

// afterAward records the voter's name and queues the level-up notice.
func (c *Council) afterAward(req *request, award Award) {
	if !award.Granted {
		return
	}
	c.Metrics.XPAwarded.Add(float64(award.XP))

	u := req.user
	if u.Name == "" {
		if name, err := c.Transport.DisplayName(c.Ctx, u.ID); err == nil && name != "" {
			u.Name = name
		} else if req.ev.SenderName != "" {
			u.Name = req.ev.SenderName
		}
	}

	if award.LeveledUp() {
		req.notify(u.ID, fmt.Sprintf("🎉 Congratulations %s! You reached level %d, %s (XP: %d).",
			c.displayName(req), award.After.Level, TitleForLevel(award.After.Level), u.XP))
	}
}

func (c *Council) cmdCount(req *request) (string, error) {
	var p *Proposal
	if req.args != "" {
		var err error
		if p, err = c.resolveTarget(req, req.args); err != nil {
			return "", err
		}
	} else if p = MostRecentOpen(c.Store.Proposals(req.scopeID)); p == nil {
		return "ℹ️ There are no open proposals right now.", nil
	}

	t := p.Tally()
	return fmt.Sprintf("📊 Proposal: *%s* (id: %s, %s)\n✔️ Yes: %d | ❌ No: %d | 🔒 Locked: %d\n⏳ Deadline: %s (%s)",
		p.Title, p.ID, p.Status, t.Yes, t.No, t.Locked, timeLeft(p.Deadline, req.now), formatTime(p.Deadline)), nil
}

func (c *Council) cmdList(req *request) (string, error) {
	all := c.Store.Proposals(req.scopeID)
	if len(all) == 0 {
		return "ℹ️ No proposals recorded yet.", nil
	}

	limit := c.Config.Vote.ListLimit
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	recent := lo.Reverse(append([]*Proposal(nil), all[len(all)-limit:]...))

	lines := lo.Map(recent, func(p *Proposal, _ int) string {
		return fmt.Sprintf("• %s — %s (%s) — rule: %s", p.ID, truncate(p.Title, titleListWidth), p.Status, p.Approval)
	})
	return "📜 Latest proposals:\n" + strings.Join(lines, "\n"), nil
}

func (c *Council) cmdMe(req *request) (string, error) {
	u := req.user
	info := LevelFromXP(u.XP)
	lines := []string{
		fmt.Sprintf("%s 👤 %s — *Level %d* (%s)", BadgeForLevel(info.Level), c.displayName(req), info.Level, TitleForLevel(info.Level)),
		fmt.Sprintf("XP: %d (%d/%d) %s", u.XP, info.XPIntoLevel, info.XPForNextLevel, progressBar(info.XPIntoLevel, info.XPForNextLevel, progressWidth)),
		fmt.Sprintf("Votes recorded: %d", u.VoteCount),
	}
	return strings.Join(lines, "\n"), nil
}

type rankingRow struct {
	user  *User
	votes int
}

func (c *Council) cmdRanking(req *request) (string, error) {
	// votes are counted from this group's ledgers
	votes := make(map[string]int)
	for _, p := range c.Store.Proposals(req.scopeID) {
		for voter := range p.Votes {
			votes[voter]++
		}
	}

	rows := lo.FilterMap(c.Store.Users(), func(u *User, _ int) (rankingRow, bool) {
		return rankingRow{user: u, votes: votes[u.ID]}, u.XP > 0
	})
	if len(rows) == 0 {
		return "ℹ️ No ranked members yet.", nil
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].votes != rows[j].votes {
			return rows[i].votes > rows[j].votes
		}
		return rows[i].user.XP > rows[j].user.XP
	})
	if len(rows) > rankingLimit {
		rows = rows[:rankingLimit]
	}

	entries := lo.Map(rows, func(r rankingRow, i int) string {
		info := LevelFromXP(r.user.XP)
		return fmt.Sprintf("%d) %s %s\n   Votes: %d • Level %d (%s) • XP: %d %s",
			i+1, BadgeForLevel(info.Level), c.nameOf(r.user), r.votes, info.Level, TitleForLevel(info.Level),
			r.user.XP, progressBar(info.XPIntoLevel, info.XPForNextLevel, progressWidth))
	})
	return "🏆 Participation ranking:\n" + strings.Join(entries, "\n\n"), nil
}

func (c *Council) cmdSetName(req *request) (string, error) {
	name := strings.Join(strings.Fields(req.args), " ")
	if name == "" {
		return "", validationf("usage: %ssetname <your name>", c.prefix())
	}
	prev := req.user.Name
	req.user.Name = name
	c.markDirty()
	if prev != "" && prev != name {
		return fmt.Sprintf("✅ Name updated: '%s' → '%s' (shown in the ranking)", prev, name), nil
	}
	return fmt.Sprintf("✅ Name set: %s (shown in the ranking)", name), nil
}

func (c *Council) cmdClose(req *request) (string, error) {
	if req.args == "" {
		return "", validationf("usage: %sclose <id|last|title>", c.prefix())
	}
	p, err := c.resolveTarget(req, req.args)
	if err != nil {
		return "", err
	}
	if p.Status != Open {
		return "", ErrProposalClosed
	}
	announcement, ok := c.resolveProposal(p, req.now)
	if !ok {
		return "", validationf("could not read the group size, try again later")
	}
	c.markDirty()
	c.Metrics.OpenProposals.Dec()
	req.notify(p.ScopeID, announcement)
	return fmt.Sprintf("✅ Proposal *%s* (id: %s) closed early: %s.", p.Title, p.ID, p.Status), nil
}

func (c *Council) cmdReopen(req *request) (string, error) {
	if req.args == "" {
		return "", validationf("usage: %sreopen <id|title>", c.prefix())
	}
	orig, err := c.resolveTarget(req, req.args)
	if err != nil {
		return "", err
	}
	if orig.Status != Cancelled && orig.Status != Tied {
		return "", validationf("only cancelled or tied proposals can be reopened, %s is %s", orig.ID, orig.Status)
	}

	id, err := c.newProposalID(orig.ScopeID)
	if err != nil {
		return "", err
	}
	var rule *ApprovalRule
	if orig.Approval != nil {
		copied := *orig.Approval
		rule = &copied
	}
	p := &Proposal{
		ID:         id,
		Title:      orig.Title,
		ScopeID:    orig.ScopeID,
		OpenedBy:   orig.OpenedBy,
		OpenedByID: orig.OpenedByID,
		OpenedAt:   req.now,
		Deadline:   req.now.Add(c.Config.Vote.DefaultWindow),
		Status:     Open,
		Approval:   rule,
		Votes:      map[string]VoteRecord{},
	}
	c.Store.AddProposal(p)
	c.markDirty()
	c.Metrics.ProposalsCreated.Inc()
	c.Metrics.OpenProposals.Inc()

	reply := fmt.Sprintf("♻️ Proposal *%s* reopened as id %s (rule: %s). Voting closes %s. Use %svote %s yes|no.",
		p.Title, p.ID, p.Approval, formatTime(p.Deadline), c.prefix(), p.ID)
	if req.ev.ChatID != p.ScopeID {
		req.notify(p.ScopeID, reply)
	}
	return reply, nil
}

func (c *Council) cmdHelp(req *request) (string, error) {
	p := c.prefix()
	lines := []string{
		"🛠️ Council — main commands:",
		"",
		fmt.Sprintf("• %screate-proposal <title> [<window>] — open a new proposal (e.g. %screate-proposal Meeting 48h)", p, p),
		fmt.Sprintf("• %svote <id|last|title|number> [yes|no] — vote, or check your vote when no answer is given", p),
		"• Send \"yes\"/\"no\" or ✅/❌ — vote on the most recent proposal",
		fmt.Sprintf("• %slock [<proposal>] or the council sticker — lock your vote", p),
		"",
		fmt.Sprintf("• %scount — votes and deadline of the current proposal", p),
		fmt.Sprintf("• %slist-proposals — latest proposals", p),
		fmt.Sprintf("• %sme — your level, XP and recorded votes", p),
		fmt.Sprintf("• %sranking — the most active voters", p),
		fmt.Sprintf("• %ssetname <name> — name shown in the ranking", p),
	}
	if c.isAdmin(req.ev.SenderID) {
		lines = append(lines, "",
			fmt.Sprintf("• %sclose <proposal> — resolve now", p),
			fmt.Sprintf("• %sreopen <proposal> — reopen a cancelled or tied proposal", p))
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Council) errorReply(logger *logrus.Entry, req *request, err error) string {
	var (
		pe *PersistenceError
		ve *ValidationError
		nf *NotFoundError
		am *AmbiguousMatchError
	)
	switch {
	case errors.As(err, &pe):
		logger.WithError(err).Error("persist state")
		return "❗ Could not save the change. Please try again."
	case errors.As(err, &am):
		lines := []string{fmt.Sprintf("🔎 Several proposals match \"%s\". Reply with %svote <number> [yes|no]:", am.Reference, c.prefix())}
		for i, p := range am.Candidates {
			lines = append(lines, fmt.Sprintf("%d) %s (id: %s, %s)", i+1, truncate(p.Title, titleListWidth), p.ID, p.Status))
		}
		return strings.Join(lines, "\n")
	case errors.As(err, &nf):
		return fmt.Sprintf("ℹ️ No proposal matches \"%s\" in this group.", nf.Reference)
	case errors.As(err, &ve):
		return "❗ " + ve.Msg
	case errors.Is(err, ErrFinalityViolation):
		return fmt.Sprintf("🔒 %s, your vote is locked and cannot be changed.", c.displayName(req))
	case errors.Is(err, ErrExpiredOrMissingDraft):
		return fmt.Sprintf("⌛ There is no proposal waiting for a criticality choice, or it expired. Start again with %screate-proposal.", c.prefix())
	case errors.Is(err, ErrInvalidChoice):
		return "❗ Reply with 1 (low), 2 (medium) or 3 (high)."
	case errors.Is(err, ErrProposalClosed):
		return "ℹ️ This proposal is no longer open for voting."
	case errors.Is(err, ErrNotAdmin):
		return "ℹ️ Restricted command. Only the administrator can run it."
	}
	logger.WithError(err).Error("command failed")
	return "❗ Something went wrong. Please try again."
}

func (c *Council) prefix() string {
	return c.Config.Council.CommandPrefix
}

func (c *Council) prefixed(text string) bool {
	p := c.prefix()
	return p != "" && strings.HasPrefix(strings.TrimSpace(text), p)
}

// touch loads the sender's record and stamps LastSeen.
func (c *Council) touch(req *request) {
	req.user = c.Store.User(req.ev.SenderID)
	seen := req.now
	req.user.LastSeen = &seen
	c.markDirty()
}

func (c *Council) displayName(req *request) string {
	if req.user != nil && req.user.Name != "" {
		return req.user.Name
	}
	if req.ev.SenderName != "" {
		return req.ev.SenderName
	}
	return shortID(req.ev.SenderID)
}

// nameOf resolves a ranking display name without persisting it.
func (c *Council) nameOf(u *User) string {
	if u.Name != "" {
		return u.Name
	}
	if name, err := c.Transport.DisplayName(c.Ctx, u.ID); err == nil && name != "" {
		return name
	}
	return shortID(u.ID)
}

func (c *Council) markDirty() {
	c.dirty = true
}

// flush writes the store back when something changed since the last write.
func (c *Council) flush() error {
	if !c.dirty {
		return nil
	}
	if err := c.Store.Flush(); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

// reload re-reads the store, writing pending changes first so they are not discarded.
func (c *Council) reload() error {
	if err := c.flush(); err != nil {
		return err
	}
	if err := c.Store.Reload(); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

func shortID(id string) string {
	if i := strings.Index(id, "@"); i > 0 {
		return id[:i]
	}
	if id == "" {
		return "unknown"
	}
	return id
}

func choiceLabel(c Choice) string {
	if c == Yes {
		return "YES"
	}
	return "NO"
}

func choiceIcon(c Choice) string {
	if c == Yes {
		return "✅"
	}
	return "❌"
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}

func progressBar(into, total, width int) string {
	if total <= 0 {
		return ""
	}
	filled := into * width / total
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

func timeLeft(deadline, now time.Time) string {
	d := deadline.Sub(now)
	if d <= 0 {
		return "expired"
	}
	// partial minutes count as a whole one
	mins := int((d + time.Minute - 1) / time.Minute)
	h := mins / 60
	m := mins % 60
	switch {
	case h >= 24:
		return fmt.Sprintf("%dd %dh left", h/24, h%24)
	case h > 0:
		return fmt.Sprintf("%dh %dm left", h, m)
	}
	return fmt.Sprintf("%dm left", m)
}
