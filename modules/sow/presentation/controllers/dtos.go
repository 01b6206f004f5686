package controllers

import (
	"github.com/sowflow/sowflow/modules/sow/domain/document"
	"github.com/sowflow/sowflow/modules/sow/domain/stage"
)

type actorRequest struct {
	ActorID string `json:"actor_id" validate:"omitempty,max=255"`
}

type decisionRequest struct {
	StageID  string  `json:"stage_id" validate:"required,uuid"`
	Decision string  `json:"decision" validate:"required,oneof=approved rejected"`
	ActorID  string  `json:"actor_id" validate:"omitempty,max=255"`
	Comment  *string `json:"comment" validate:"omitempty,max=4000"`
}

type statusResponse struct {
	Success bool            `json:"success"`
	Status  document.Status `json:"status"`
}

type decisionResponse struct {
	Success           bool            `json:"success"`
	NewDocumentStatus document.Status `json:"new_document_status"`
}

type reconcileResponse struct {
	Success        bool            `json:"success"`
	Changed        bool            `json:"changed"`
	PreviousStatus document.Status `json:"previous_status"`
	Status         document.Status `json:"status"`
}

type resetResponse struct {
	Success bool            `json:"success"`
	Changed bool            `json:"changed"`
	Status  document.Status `json:"status"`
}

type stagesResponse struct {
	Stages []stage.Stage `json:"stages"`
}
