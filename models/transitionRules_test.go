package models

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/kanban_backend/utils"
)

var allStages = []CardStage{
	CardStageCreated, CardStageTriggered, CardStageOrdered,
	CardStageInTransit, CardStageReceived, CardStageRestocked,
}

func TestIsValidTransition_ExactMatrix(t *testing.T) {
	legal := map[CardStage]map[CardStage]bool{
		CardStageCreated:   {CardStageTriggered: true},
		CardStageTriggered: {CardStageOrdered: true},
		CardStageOrdered:   {CardStageInTransit: true, CardStageReceived: true},
		CardStageInTransit: {CardStageReceived: true},
		CardStageReceived:  {CardStageRestocked: true},
		CardStageRestocked: {CardStageTriggered: true},
	}

	var legalCount int
	for _, from := range allStages {
		for _, to := range allStages {
			got := IsValidTransition(from, to)
			want := legal[from][to]
			if got != want {
				t.Errorf("IsValidTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
			if got {
				legalCount++
			}
		}
	}
	if legalCount != 7 {
		t.Errorf("expected 7 legal pairs in the matrix, counted %d", legalCount)
	}

	// Self-loops are never legal.
	for _, s := range allStages {
		if IsValidTransition(s, s) {
			t.Errorf("self-loop %s->%s must be invalid", s, s)
		}
	}

	// Unknown stage names on either side.
	if IsValidTransition("bogus", CardStageTriggered) {
		t.Error("unknown from-stage must be invalid")
	}
	if IsValidTransition(CardStageCreated, "bogus") {
		t.Error("unknown to-stage must be invalid")
	}
	if IsValidTransition("", "") {
		t.Error("empty stages must be invalid")
	}
}

func TestDetectScanConflict_ExhaustiveTable(t *testing.T) {
	cases := []struct {
		stage    CardStage
		isActive bool
		want     ScanConflict
	}{
		{CardStageCreated, true, ScanConflictNone},
		{CardStageTriggered, true, ScanConflictAlreadyTriggered},
		{CardStageOrdered, true, ScanConflictStageAdvanced},
		{CardStageInTransit, true, ScanConflictStageAdvanced},
		{CardStageReceived, true, ScanConflictStageAdvanced},
		{CardStageRestocked, true, ScanConflictStageAdvanced},
		// Inactive always wins regardless of stage.
		{CardStageCreated, false, ScanConflictCardInactive},
		{CardStageTriggered, false, ScanConflictCardInactive},
		{CardStageOrdered, false, ScanConflictCardInactive},
		{CardStageInTransit, false, ScanConflictCardInactive},
		{CardStageReceived, false, ScanConflictCardInactive},
		{CardStageRestocked, false, ScanConflictCardInactive},
	}
	for _, tc := range cases {
		if got := DetectScanConflict(tc.stage, tc.isActive); got != tc.want {
			t.Errorf("DetectScanConflict(%s, %v) = %s, want %s", tc.stage, tc.isActive, got, tc.want)
		}
	}
}

func testCard(stage CardStage, active bool) *Card {
	isActive := utils.NewTrue()
	if !active {
		isActive = utils.NewFalse()
	}
	return &Card{
		ID:                    1,
		TenantId:              "tenant-1",
		LoopId:                7,
		CurrentStage:          stage,
		IsActive:              isActive,
		CurrentStageEnteredAt: time.Now(),
	}
}

func testLoop(loopType LoopType) *Loop {
	return &Loop{ID: 7, TenantId: "tenant-1", LoopType: loopType}
}

func mustCode(t *testing.T, err error, want ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", want)
	}
	code, ok := DomainCode(err)
	if !ok {
		t.Fatalf("expected domain error %s, got %v", want, err)
	}
	if code != want {
		t.Fatalf("expected %s, got %s (%v)", want, code, err)
	}
}

func TestValidateTransition_InactiveCard(t *testing.T) {
	err := ValidateTransition(testCard(CardStageCreated, false), testLoop(LoopTypeProcurement),
		TransitionRequest{ToStage: CardStageTriggered, Method: TransitionMethodManual}, nil)
	mustCode(t, err, ErrCodeCardInactive)
}

func TestValidateTransition_IllegalEdge(t *testing.T) {
	err := ValidateTransition(testCard(CardStageCreated, true), testLoop(LoopTypeProcurement),
		TransitionRequest{ToStage: CardStageReceived, Method: TransitionMethodManual}, nil)
	mustCode(t, err, ErrCodeInvalidTransition)

	err = ValidateTransition(testCard(CardStageCreated, true), testLoop(LoopTypeProcurement),
		TransitionRequest{ToStage: "warehouse", Method: TransitionMethodManual}, nil)
	mustCode(t, err, ErrCodeInvalidTransition)
}

func TestValidateTransition_LoopTypeBranching(t *testing.T) {
	// Production loops have no transit leg.
	err := ValidateTransition(testCard(CardStageOrdered, true), testLoop(LoopTypeProduction),
		TransitionRequest{ToStage: CardStageInTransit, Method: TransitionMethodManual}, nil)
	mustCode(t, err, ErrCodeLoopTypeIncompatible)

	// The same card may be received directly.
	if err := ValidateTransition(testCard(CardStageOrdered, true), testLoop(LoopTypeProduction),
		TransitionRequest{ToStage: CardStageReceived, Method: TransitionMethodManual}, nil); err != nil {
		t.Fatalf("production ordered->received should be legal: %v", err)
	}

	// Procurement and transfer loops keep the transit leg.
	for _, lt := range []LoopType{LoopTypeProcurement, LoopTypeTransfer} {
		if err := ValidateTransition(testCard(CardStageOrdered, true), testLoop(lt),
			TransitionRequest{ToStage: CardStageInTransit, Method: TransitionMethodManual}, nil); err != nil {
			t.Fatalf("%s ordered->in_transit should be legal: %v", lt, err)
		}
	}
}

func TestValidateTransition_MethodGating(t *testing.T) {
	// Scans may only trigger.
	err := ValidateTransition(testCard(CardStageTriggered, true), testLoop(LoopTypeProcurement),
		TransitionRequest{
			ToStage: CardStageOrdered, Method: TransitionMethodQrScan,
			LinkedOrderId: utils.NewInt(10), LinkedOrderType: utils.NewString("purchase_order"),
		}, nil)
	mustCode(t, err, ErrCodeMethodNotAllowed)

	for _, from := range []CardStage{CardStageCreated, CardStageRestocked} {
		if err := ValidateTransition(testCard(from, true), testLoop(LoopTypeProcurement),
			TransitionRequest{ToStage: CardStageTriggered, Method: TransitionMethodQrScan}, nil); err != nil {
			t.Fatalf("qr_scan %s->triggered should be legal: %v", from, err)
		}
	}
}

func TestValidateTransition_LinkedOrderRequired(t *testing.T) {
	err := ValidateTransition(testCard(CardStageTriggered, true), testLoop(LoopTypeProcurement),
		TransitionRequest{ToStage: CardStageOrdered, Method: TransitionMethodManual}, nil)
	mustCode(t, err, ErrCodeLinkedOrderRequired)

	if err := ValidateTransition(testCard(CardStageTriggered, true), testLoop(LoopTypeProcurement),
		TransitionRequest{
			ToStage: CardStageOrdered, Method: TransitionMethodApi,
			LinkedOrderId: utils.NewInt(99), LinkedOrderType: utils.NewString("purchase_order"),
		}, nil); err != nil {
		t.Fatalf("ordered with a linked order should be legal: %v", err)
	}
}

func TestValidateTransition_RoleGating(t *testing.T) {
	policy := DefaultRolePolicy()

	err := ValidateTransition(testCard(CardStageTriggered, true), testLoop(LoopTypeProcurement),
		TransitionRequest{
			ToStage: CardStageOrdered, Method: TransitionMethodManual,
			UserRole:      utils.NewString("operator"),
			LinkedOrderId: utils.NewInt(1), LinkedOrderType: utils.NewString("purchase_order"),
		}, policy)
	mustCode(t, err, ErrCodeRoleNotAllowed)

	if err := ValidateTransition(testCard(CardStageTriggered, true), testLoop(LoopTypeProcurement),
		TransitionRequest{
			ToStage: CardStageOrdered, Method: TransitionMethodManual,
			UserRole:      utils.NewString("purchaser"),
			LinkedOrderId: utils.NewInt(1), LinkedOrderType: utils.NewString("purchase_order"),
		}, policy); err != nil {
		t.Fatalf("purchaser may order: %v", err)
	}

	// Internal callers carry no role and bypass the policy.
	if err := ValidateTransition(testCard(CardStageTriggered, true), testLoop(LoopTypeProcurement),
		TransitionRequest{
			ToStage: CardStageOrdered, Method: TransitionMethodApi,
			LinkedOrderId: utils.NewInt(1), LinkedOrderType: utils.NewString("purchase_order"),
		}, policy); err != nil {
		t.Fatalf("nil role should bypass the policy: %v", err)
	}
}
