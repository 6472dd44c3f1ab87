package engine

import (
	"time"

	"github.com/clubledger/finance-engine/ledger"
)

// =============================================================================
// TRIGGER INPUTS - Consumed, not owned, by the engine
// =============================================================================

// Attendance is a training attendance mark.
type Attendance struct {
	MemberID ledger.MemberID
	EventID  ledger.EventID
	DueDate  time.Time
}

// TeamSelection is the lineup announced for a fixture.
type TeamSelection struct {
	FixtureID   ledger.FixtureID
	Starting    []ledger.MemberID
	Substitutes []ledger.MemberID
	DueDate     time.Time
}

// EventKind distinguishes social events from training and other club events.
type EventKind string

const (
	EventSocial   EventKind = "SOCIAL"
	EventTraining EventKind = "TRAINING"
	EventMatch    EventKind = "MATCH"
)

// Event is the slice of an external event record the engine cares about:
// whether it costs anything and when it happens.
type Event struct {
	ID       ledger.EventID
	Kind     EventKind
	Cost     ledger.Money
	StartsAt time.Time
}

// RSVPStatus values for event invitations.
type RSVPStatus string

const (
	RSVPYes   RSVPStatus = "YES"
	RSVPNo    RSVPStatus = "NO"
	RSVPMaybe RSVPStatus = "MAYBE"
)

type RSVP struct {
	EventID  ledger.EventID
	MemberID ledger.MemberID
	Status   RSVPStatus
}

// MatchEventType classifies in-match events.
type MatchEventType string

const (
	EventGoal         MatchEventType = "GOAL"
	EventYellowCard   MatchEventType = "YELLOW_CARD"
	EventRedCard      MatchEventType = "RED_CARD"
	EventSubstitution MatchEventType = "SUBSTITUTION"
)

// MatchEvent is a single recorded match incident. For substitutions,
// MemberID is the player coming on and SubstitutedForID the player going off.
type MatchEvent struct {
	ID               ledger.MatchEventID
	FixtureID        ledger.FixtureID
	Type             MatchEventType
	Minute           int
	MemberID         ledger.MemberID
	SubstitutedForID ledger.MemberID
}

// FullMatchMinutes is the default appearance length when no substitution
// involves the member.
const FullMatchMinutes = 90

// MinutesDiscountThreshold is the appearance length below which a match fee
// is halved.
const MinutesDiscountThreshold = 60
