package trainer

import "fmt"

// TimeUnit is the unit a training duration is expressed in.
type TimeUnit string

const (
	TimeUnitToken TimeUnit = "tok"
	TimeUnitBatch TimeUnit = "ba"
	TimeUnitEpoch TimeUnit = "ep"
)

// Duration is a training length such as "10ep" or "2000ba".
type Duration struct {
	Value int64    `json:"value" yaml:"value"`
	Unit  TimeUnit `json:"unit" yaml:"unit"`
}

func (d Duration) String() string {
	return fmt.Sprintf("%d%s", d.Value, d.Unit)
}

// Timestamp tracks progress counters maintained by the trainer.
type Timestamp struct {
	Token        int64 `json:"token"`
	Batch        int64 `json:"batch"`
	BatchInEpoch int64 `json:"batch_in_epoch"`
	Epoch        int64 `json:"epoch"`
}
