package rtc

import (
	"errors"
	"fmt"

	"github.com/isqad/livelook-meet/internal/core"
)

var ErrInvalidTransition = errors.New("invalid link state transition")

// LinkState is the negotiation state of one peer link
type LinkState int

const (
	LinkIdle LinkState = iota
	LinkOffering
	LinkAnswering
	LinkNegotiating
	LinkConnected
	LinkFailed
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkIdle:
		return "idle"
	case LinkOffering:
		return "offering"
	case LinkAnswering:
		return "answering"
	case LinkNegotiating:
		return "negotiating"
	case LinkConnected:
		return "connected"
	case LinkFailed:
		return "failed"
	case LinkClosed:
		return "closed"
	default:
		return fmt.Sprintf("LinkState(%d)", int(s))
	}
}

// Terminal states never leave except Failed, which is closed on teardown
func (s LinkState) Terminal() bool {
	return s == LinkFailed || s == LinkClosed
}

type LinkEvent int

const (
	// EventLocalOffer starts a local offer, also used to renegotiate a connected link
	EventLocalOffer LinkEvent = iota
	EventOfferSent
	// EventRemoteOffer is an offer accepted from the peer
	EventRemoteOffer
	EventAnswerSent
	// EventEstablished fires once both descriptions are applied and the transport is up
	EventEstablished
	EventTransportFailed
	EventClose
)

func (e LinkEvent) String() string {
	switch e {
	case EventLocalOffer:
		return "local-offer"
	case EventOfferSent:
		return "offer-sent"
	case EventRemoteOffer:
		return "remote-offer"
	case EventAnswerSent:
		return "answer-sent"
	case EventEstablished:
		return "established"
	case EventTransportFailed:
		return "transport-failed"
	case EventClose:
		return "close"
	default:
		return fmt.Sprintf("LinkEvent(%d)", int(e))
	}
}

type transitionKey struct {
	from  LinkState
	event LinkEvent
}

var transitions = map[transitionKey]LinkState{
	{LinkIdle, EventLocalOffer}:        LinkOffering,
	{LinkConnected, EventLocalOffer}:   LinkOffering,
	{LinkNegotiating, EventLocalOffer}: LinkOffering,
	{LinkOffering, EventOfferSent}:     LinkNegotiating,

	{LinkIdle, EventRemoteOffer}:        LinkAnswering,
	{LinkConnected, EventRemoteOffer}:   LinkAnswering,
	{LinkOffering, EventRemoteOffer}:    LinkAnswering,
	{LinkNegotiating, EventRemoteOffer}: LinkAnswering,
	{LinkAnswering, EventAnswerSent}:    LinkNegotiating,

	{LinkNegotiating, EventEstablished}: LinkConnected,
}

// Transition returns the state after the event or ErrInvalidTransition.
// A negotiating link may offer again when its unanswered offer is resent from a fresh transport.
// Failure and close are accepted from every state that is not already terminal.
func Transition(from LinkState, event LinkEvent) (LinkState, error) {
	switch event {
	case EventTransportFailed:
		if !from.Terminal() {
			return LinkFailed, nil
		}
	case EventClose:
		if from != LinkClosed {
			return LinkClosed, nil
		}
	default:
		if to, ok := transitions[transitionKey{from, event}]; ok {
			return to, nil
		}
	}

	return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, from)
}

type GlareDecision int

const (
	// KeepLocalOffer ignores the incoming offer and waits for the answer to ours
	KeepLocalOffer GlareDecision = iota
	// YieldToRemote drops our pending offer and answers the peer
	YieldToRemote
)

// ResolveGlare decides which offer survives when both sides offered at once:
// the lower connection id always initiates.
func ResolveGlare(local, remote core.ConnectionID) GlareDecision {
	if local < remote {
		return KeepLocalOffer
	}
	return YieldToRemote
}
