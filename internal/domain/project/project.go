// Package project defines the Project domain entity and its lifecycle phases.
package project

import (
	"errors"
	"time"
)

// Phase is a named stage in a project's delivery lifecycle.
// Each phase is bound to one primary agent type via the phase policy.
type Phase string

const (
	PhaseDiscovery Phase = "discovery"
	PhaseDesign    Phase = "design"
	PhaseBuild     Phase = "build"
	PhaseValidate  Phase = "validate"
	PhaseLaunch    Phase = "launch"
)

// Phases lists the default lifecycle phases in order.
func Phases() []Phase {
	return []Phase{PhaseDiscovery, PhaseDesign, PhaseBuild, PhaseValidate, PhaseLaunch}
}

// Project is a unit of work moving through lifecycle phases.
// Projects are never deleted, only archived.
type Project struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	CurrentPhase Phase     `json:"current_phase"`
	Archived     bool      `json:"archived"`
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateRequest holds the fields needed to create a new project.
type CreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Validate checks the create request for required fields.
func (r *CreateRequest) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	if len(r.Name) > 200 {
		return errors.New("name too long (max 200 chars)")
	}
	return nil
}
