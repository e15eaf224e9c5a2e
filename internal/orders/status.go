package orders

// Stage is the processing stage of a single inbound message.
type Stage string

const (
	StageReceived     Stage = "RECEIVED"
	StageDecoded      Stage = "DECODED"
	StagePriced       Stage = "PRICED"
	StagePersisted    Stage = "PERSISTED"
	StageAcknowledged Stage = "ACKNOWLEDGED"
	StagePublished    Stage = "PUBLISHED"
	StageRejected     Stage = "REJECTED"
)

var validNext = map[Stage]map[Stage]bool{
	StageReceived:     {StageDecoded: true, StageRejected: true},
	StageDecoded:      {StagePriced: true, StageRejected: true},
	StagePriced:       {StagePersisted: true, StageRejected: true},
	StagePersisted:    {StageAcknowledged: true},
	StageAcknowledged: {StagePublished: true},
	StagePublished:    {},
	StageRejected:     {},
}

func CanTransition(from, to Stage) bool {
	return validNext[from][to]
}
