package models

import "errors"

type CardStage string

const (
	CardStageCreated   CardStage = "created"
	CardStageTriggered CardStage = "triggered"
	CardStageOrdered   CardStage = "ordered"
	CardStageInTransit CardStage = "in_transit"
	CardStageReceived  CardStage = "received"
	CardStageRestocked CardStage = "restocked"
)

func (s CardStage) IsValid() bool {
	switch s {
	case CardStageCreated, CardStageTriggered, CardStageOrdered,
		CardStageInTransit, CardStageReceived, CardStageRestocked:
		return true
	}
	return false
}

func ParseCardStage(s string) (CardStage, error) {
	stage := CardStage(s)
	if !stage.IsValid() {
		return "", errors.New("invalid card stage")
	}
	return stage, nil
}

type LoopType string

const (
	LoopTypeProcurement LoopType = "procurement"
	LoopTypeProduction  LoopType = "production"
	LoopTypeTransfer    LoopType = "transfer"
)

func (t LoopType) IsValid() bool {
	switch t {
	case LoopTypeProcurement, LoopTypeProduction, LoopTypeTransfer:
		return true
	}
	return false
}

type TransitionMethod string

const (
	TransitionMethodQrScan TransitionMethod = "qr_scan"
	TransitionMethodManual TransitionMethod = "manual"
	TransitionMethodApi    TransitionMethod = "api"
)

func (m TransitionMethod) IsValid() bool {
	switch m {
	case TransitionMethodQrScan, TransitionMethodManual, TransitionMethodApi:
		return true
	}
	return false
}

func ParseTransitionMethod(s string) (TransitionMethod, error) {
	method := TransitionMethod(s)
	if !method.IsValid() {
		return "", errors.New("invalid transition method")
	}
	return method, nil
}

// ScanConflict classifies what a scan would collide with on the card's
// current state.
type ScanConflict string

const (
	ScanConflictNone             ScanConflict = "ok"
	ScanConflictCardInactive     ScanConflict = "card_inactive"
	ScanConflictAlreadyTriggered ScanConflict = "already_triggered"
	ScanConflictStageAdvanced    ScanConflict = "stage_advanced"
)

type DedupStatus string

const (
	DedupStatusPending   DedupStatus = "pending"
	DedupStatusCompleted DedupStatus = "completed"
	DedupStatusFailed    DedupStatus = "failed"
	// DedupStatusUnknown is reported when a racing claim's record expired
	// between the losing SETNX and the re-read. Fail closed.
	DedupStatusUnknown DedupStatus = "unknown"
)
