package domain

import "fmt"

// RetrievalPhase is a step of the remote query/answer/retrieve protocol.
type RetrievalPhase int

const (
	PhaseUnqueried RetrievalPhase = iota
	PhaseQueried
	PhaseAnswered
	PhaseRetrieved
)

func (p RetrievalPhase) String() string {
	switch p {
	case PhaseUnqueried:
		return "unqueried"
	case PhaseQueried:
		return "queried"
	case PhaseAnswered:
		return "answered"
	case PhaseRetrieved:
		return "retrieved"
	default:
		return fmt.Sprintf("RetrievalPhase(%d)", int(p))
	}
}

// Retrieval is the typed protocol state carried by a Dixel while a proxy
// resolves it against a remote modality.
//
//	UNQUERIED -> QUERIED (QID) -> ANSWERED (AID) -> RETRIEVED
//
// A new query may start from any phase and discards the previous answer.
type Retrieval struct {
	Phase RetrievalPhase
	QID   string
	AID   string
}

// Query records a new query id.
func (r *Retrieval) Query(qid string) error {
	if qid == "" {
		return fmt.Errorf("%w: empty query id", ErrInvalidTransition)
	}
	r.Phase = PhaseQueried
	r.QID = qid
	r.AID = ""
	return nil
}

// Answer records the chosen answer id.
func (r *Retrieval) Answer(aid string) error {
	if r.Phase != PhaseQueried {
		return fmt.Errorf("%w: answer from %s", ErrInvalidTransition, r.Phase)
	}
	if aid == "" {
		return fmt.Errorf("%w: empty answer id", ErrInvalidTransition)
	}
	r.Phase = PhaseAnswered
	r.AID = aid
	return nil
}

// Retrieved marks the answer as present locally.
func (r *Retrieval) Retrieved() error {
	if r.Phase != PhaseAnswered && r.Phase != PhaseRetrieved {
		return fmt.Errorf("%w: retrieved from %s", ErrInvalidTransition, r.Phase)
	}
	r.Phase = PhaseRetrieved
	return nil
}
