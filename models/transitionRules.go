package models

import "fmt"

// Pure transition rule engine. No I/O in this file so every rule is
// exhaustively unit-testable.

// stageTransitions is the fixed adjacency matrix of legal moves. restocked
// loops back to triggered; there is no terminal stage.
var stageTransitions = map[CardStage][]CardStage{
	CardStageCreated:   {CardStageTriggered},
	CardStageTriggered: {CardStageOrdered},
	CardStageOrdered:   {CardStageInTransit, CardStageReceived},
	CardStageInTransit: {CardStageReceived},
	CardStageReceived:  {CardStageRestocked},
	CardStageRestocked: {CardStageTriggered},
}

// IsValidTransition reports whether from->to is in the adjacency matrix.
// Unknown stage names are invalid.
func IsValidTransition(from, to CardStage) bool {
	for _, next := range stageTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DetectScanConflict classifies what a scan would collide with. An inactive
// card always wins regardless of stage.
func DetectScanConflict(currentStage CardStage, isActive bool) ScanConflict {
	if !isActive {
		return ScanConflictCardInactive
	}
	switch currentStage {
	case CardStageCreated:
		return ScanConflictNone
	case CardStageTriggered:
		return ScanConflictAlreadyTriggered
	default:
		return ScanConflictStageAdvanced
	}
}

// scanTriggerEdges are the only moves a physical scan may perform. Every
// other edge must come through the UI or API.
var scanTriggerEdges = map[CardStage]map[CardStage]bool{
	CardStageCreated:   {CardStageTriggered: true},
	CardStageRestocked: {CardStageTriggered: true},
}

// RolePolicy is the RBAC contract the engine consumes. The policy table
// itself is owned by the platform's role administration, not by this core.
type RolePolicy interface {
	IsRoleAllowed(role string, from, to CardStage) bool
}

// StaticRolePolicy allows roles per target stage. A role listed under a
// stage may perform any legal transition into that stage.
type StaticRolePolicy map[CardStage][]string

func (p StaticRolePolicy) IsRoleAllowed(role string, from, to CardStage) bool {
	for _, allowed := range p[to] {
		if allowed == role || allowed == "*" {
			return true
		}
	}
	return false
}

// DefaultRolePolicy mirrors the platform's stock role set.
func DefaultRolePolicy() StaticRolePolicy {
	return StaticRolePolicy{
		CardStageTriggered: {"*"},
		CardStageOrdered:   {"admin", "purchaser"},
		CardStageInTransit: {"admin", "purchaser", "warehouse"},
		CardStageReceived:  {"admin", "warehouse"},
		CardStageRestocked: {"admin", "warehouse", "operator"},
	}
}

// TransitionRequest carries everything the rule engine needs to judge a
// proposed move.
type TransitionRequest struct {
	ToStage         CardStage
	Method          TransitionMethod
	UserRole        *string
	LinkedOrderId   *int
	LinkedOrderType *string
}

// ValidateTransition checks a proposed move against the matrix, the loop
// type, the method and linked-order constraints, and the role policy.
// It returns a *DomainError on any rule violation and touches no state.
func ValidateTransition(card *Card, loop *Loop, req TransitionRequest, policy RolePolicy) error {
	if !card.Active() {
		return NewDomainError(ErrCodeCardInactive, "card is inactive")
	}
	if !req.ToStage.IsValid() {
		return NewDomainError(ErrCodeInvalidTransition,
			fmt.Sprintf("unknown stage %q", string(req.ToStage)))
	}
	if !IsValidTransition(card.CurrentStage, req.ToStage) {
		return NewDomainErrorWithDetails(ErrCodeInvalidTransition,
			fmt.Sprintf("cannot move from %s to %s", card.CurrentStage, req.ToStage),
			map[string]any{"from_stage": card.CurrentStage, "to_stage": req.ToStage})
	}

	// A production loop has no transit leg: replenishment is received
	// directly from the shop floor.
	if card.CurrentStage == CardStageOrdered && req.ToStage == CardStageInTransit &&
		loop.LoopType == LoopTypeProduction {
		return NewDomainError(ErrCodeLoopTypeIncompatible,
			"production loops receive directly and cannot enter transit")
	}

	if req.Method == TransitionMethodQrScan && !scanTriggerEdges[card.CurrentStage][req.ToStage] {
		return NewDomainError(ErrCodeMethodNotAllowed,
			fmt.Sprintf("%s to %s must be performed manually or via api", card.CurrentStage, req.ToStage))
	}

	if req.ToStage == CardStageOrdered &&
		(req.LinkedOrderId == nil || req.LinkedOrderType == nil) {
		return NewDomainError(ErrCodeLinkedOrderRequired,
			"a linked order id and type are required to enter ordered")
	}

	// Internal callers (scan path, replay, workers) carry no role; only an
	// explicit caller role is checked.
	if req.UserRole != nil && policy != nil {
		if !policy.IsRoleAllowed(*req.UserRole, card.CurrentStage, req.ToStage) {
			return NewDomainErrorWithDetails(ErrCodeRoleNotAllowed,
				fmt.Sprintf("role %q may not move cards to %s", *req.UserRole, req.ToStage),
				map[string]any{"role": *req.UserRole, "to_stage": req.ToStage})
		}
	}

	return nil
}
