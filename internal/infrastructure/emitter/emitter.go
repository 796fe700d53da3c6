package emitter

import "github.com/visionlane/backend/internal/domain"

// NopEmitter drops every event. It is used when store monitoring is disabled.
type NopEmitter struct{}

// Emit implements domain.EventEmitter
func (NopEmitter) Emit(domain.Event) {}

var _ domain.EventEmitter = NopEmitter{}
