package storage

import (
	"encoding/json"
	"errors"

	"strategos/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeStrategy(g model.StrategyGraph) ([]byte, error) {
	stamp(&g.VersionedRecord)
	return json.Marshal(g)
}

func DecodeStrategy(data []byte) (model.StrategyGraph, error) {
	var strategy model.StrategyGraph
	if err := json.Unmarshal(data, &strategy); err != nil {
		return model.StrategyGraph{}, err
	}
	if err := checkVersion(strategy.VersionedRecord); err != nil {
		return model.StrategyGraph{}, err
	}
	return strategy, nil
}

func EncodeCheckpoint(cp model.Checkpoint) ([]byte, error) {
	stamp(&cp.VersionedRecord)
	return json.Marshal(cp)
}

func DecodeCheckpoint(data []byte) (model.Checkpoint, error) {
	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return model.Checkpoint{}, err
	}
	if err := checkVersion(cp.VersionedRecord); err != nil {
		return model.Checkpoint{}, err
	}
	return cp, nil
}

func EncodeChampion(c model.Champion) ([]byte, error) {
	stamp(&c.VersionedRecord)
	return json.Marshal(c)
}

func DecodeChampion(data []byte) (model.Champion, error) {
	var champion model.Champion
	if err := json.Unmarshal(data, &champion); err != nil {
		return model.Champion{}, err
	}
	if err := checkVersion(champion.VersionedRecord); err != nil {
		return model.Champion{}, err
	}
	return champion, nil
}

func EncodeMutationLog(records []model.MutationRecord) ([]byte, error) {
	return json.Marshal(records)
}

func DecodeMutationLog(data []byte) ([]model.MutationRecord, error) {
	var records []model.MutationRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func EncodeLineage(records []model.LineageRecord) ([]byte, error) {
	return json.Marshal(records)
}

func DecodeLineage(data []byte) ([]model.LineageRecord, error) {
	var records []model.LineageRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func EncodeGenerationDiagnostics(diagnostics []model.GenerationDiagnostics) ([]byte, error) {
	return json.Marshal(diagnostics)
}

func DecodeGenerationDiagnostics(data []byte) ([]model.GenerationDiagnostics, error) {
	var diagnostics []model.GenerationDiagnostics
	if err := json.Unmarshal(data, &diagnostics); err != nil {
		return nil, err
	}
	return diagnostics, nil
}

// stamp fills in current versions on records that were built in memory and
// never stamped by a previous decode.
func stamp(v *model.VersionedRecord) {
	if v.SchemaVersion == 0 {
		v.SchemaVersion = CurrentSchemaVersion
	}
	if v.CodecVersion == 0 {
		v.CodecVersion = CurrentCodecVersion
	}
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
