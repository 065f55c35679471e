package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/capitalize-ai/intake-engine/internal/model"
)

// Reply texts used across the state machine.
const (
	msgCancelled = "No problem, I've cancelled this request. Message me again whenever you're ready to start a new one."
	msgReset     = "Okay, starting over. I've kept your name and department so we don't have to redo those."
	msgTrouble   = "Sorry, I'm having trouble processing that right now. Mind trying again in a moment?"

	msgPickingBackUp  = "Still here! Picking back up where we left off."
	msgCoreDone       = "Great, that covers the basics. A few more questions tailored to this kind of request:"
	msgConfirmPrompt  = "Does this all look right? Reply *yes* to submit, or tell me what to change."
	msgUpdated        = "Got it, updated."
	msgEditNotUnderstood = "I wasn't sure which part to change there. Here's what I have:"

	msgSubmitted        = "Your request has been submitted for approval. I'll let you know as soon as it's reviewed!"
	msgAlreadySubmitted = "This request is already in for approval — no further changes needed from you. I'll follow up once it's reviewed."

	msgDupCheck = "Looks like you already have a request in progress in another thread. Want to *continue there*, or *start fresh* here? (Starting fresh will close the other one.)"
	msgContinueThere = "Sounds good — let's keep going in your existing thread. I'll close this one."

	msgHedgeReassurance = "And no worries if that's not final — we can adjust it later."
)

// greeting opens a brand-new conversation.
func greeting(name string) string {
	first := firstName(name)
	if first == "" {
		return "Hi! I'll walk you through a few questions to get your request scoped and submitted."
	}
	return fmt.Sprintf("Hi %s! I'll walk you through a few questions to get your request scoped and submitted.", first)
}

// questionFor phrases the question for a required field. Phrasing is
// context-aware: what is already known can change how a field is asked.
func questionFor(field string, data model.CollectedData) string {
	switch field {
	case model.FieldDepartment:
		return "First up — which department or team is this request for?"
	case model.FieldAudience:
		return "Who's the target audience?"
	case model.FieldBackground:
		return "What's the context or background here? What's prompting this request?"
	case model.FieldOutcomes:
		return "What outcomes are you hoping for? How will you know this worked?"
	case model.FieldDeliverables:
		return "What deliverables do you need? (e.g. one-pager, slide deck, email copy — list as many as apply)"
	case model.FieldDueDate:
		if mentionsConference(data) {
			return "When is the event? I'll work the due date back from the conference date."
		}
		return "And when do you need this by?"
	case model.FieldApprovals:
		return "Does anyone need to approve or sign off on this? (Optional — say skip if not.)"
	case model.FieldConstraints:
		return "Any constraints I should know about — budget, branding, legal? (Optional — say skip if not.)"
	case model.FieldLinks:
		return "Any links to supporting docs or prior work? (Optional — say skip if not.)"
	}
	return "Tell me more about what you need."
}

// staticGuidance is the canned help used when guidance generation fails.
func staticGuidance(field string) string {
	switch field {
	case model.FieldDepartment:
		return "Just the team this work is for — e.g. Sales, Marketing, or Product."
	case model.FieldAudience:
		return "Think about who will read or see the finished work — customers, partners, a specific role or industry."
	case model.FieldBackground:
		return "A sentence or two on what's happening: an upcoming event, a campaign, a gap you've noticed."
	case model.FieldOutcomes:
		return "What should be different afterwards? More signups, a clearer pitch, an informed audience — anything measurable or observable."
	case model.FieldDeliverables:
		return "The concrete artifacts you want back — a deck, an email, a landing page. A rough list is fine."
	case model.FieldDueDate:
		return "A date or a rough timeframe both work — \"end of March\" or \"two weeks before the conference\"."
	}
	return "A rough answer is fine — we can refine it together before anything is submitted."
}

func mentionsConference(data model.CollectedData) bool {
	haystack := strings.ToLower(strings.Join([]string{
		data.Background, data.Outcomes, data.RequestTypes,
		strings.Join(data.Deliverables, " "),
	}, " "))
	return strings.Contains(haystack, "conference") || strings.Contains(haystack, "summit")
}

// displayName labels the work item handed to the approval workflow.
func displayName(conv *model.Conversation) string {
	types := conv.Data.RequestTypes
	if types == "" {
		types = "request"
	}
	who := conv.Data.Department
	if who == "" {
		who = firstName(conv.UserName)
	}
	if who == "" {
		return humanizeKey(types)
	}
	return fmt.Sprintf("%s (%s)", humanizeKey(types), who)
}

// renderSummary produces the full confirmation summary of everything
// collected so far.
func renderSummary(conv *model.Conversation) string {
	d := conv.Data
	var b strings.Builder
	b.WriteString("Here's everything I have:\n")

	writeLine := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "• *%s:* %s\n", label, value)
		}
	}

	writeLine("Requester", d.RequesterName)
	writeLine("Department", d.Department)
	writeLine("Request type", d.RequestTypes)
	writeLine("Audience", d.Audience)
	writeLine("Background", d.Background)
	writeLine("Desired outcomes", d.Outcomes)
	writeLine("Deliverables", strings.Join(d.Deliverables, ", "))
	if d.DueDate != "" {
		due := d.DueDate
		if d.DueDateParsed != "" && d.DueDateParsed != d.DueDate {
			due = fmt.Sprintf("%s (%s)", d.DueDate, d.DueDateParsed)
		}
		writeLine("Due date", due)
	}
	writeLine("Approvals", d.Approvals)
	writeLine("Constraints", d.Constraints)
	writeLine("Links", strings.Join(d.Links, ", "))

	for _, q := range d.FollowUps {
		if answer, ok := d.AdditionalDetails[q.FieldKey]; ok {
			writeLine(humanizeKey(q.FieldKey), answer)
		}
	}
	extras := make([]string, 0, len(d.AdditionalDetails))
	for key := range d.AdditionalDetails {
		if !followUpHasKey(d.FollowUps, key) {
			extras = append(extras, key)
		}
	}
	sort.Strings(extras)
	for _, key := range extras {
		writeLine(humanizeKey(key), d.AdditionalDetails[key])
	}

	if len(d.ExistingAssets) > 0 {
		writeLine("Existing assets", strings.Join(d.ExistingAssets, ", "))
	}
	if len(d.RelatedProjects) > 0 {
		writeLine("Related projects", strings.Join(d.RelatedProjects, ", "))
	}
	if len(d.DiscussionFlags) > 0 {
		keys := make([]string, len(d.DiscussionFlags))
		for i, f := range d.DiscussionFlags {
			keys[i] = humanizeKey(f)
		}
		fmt.Fprintf(&b, "• *To discuss live:* %s\n", strings.Join(keys, ", "))
	}

	return strings.TrimRight(b.String(), "\n")
}

func followUpHasKey(qs []model.FollowUpQuestion, key string) bool {
	for _, q := range qs {
		if q.FieldKey == key {
			return true
		}
	}
	return false
}

func humanizeKey(key string) string {
	words := strings.Split(key, "_")
	if len(words) == 0 {
		return key
	}
	out := strings.Join(words, " ")
	if out == "" {
		return key
	}
	return strings.ToUpper(out[:1]) + out[1:]
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

