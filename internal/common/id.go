package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewTransferID generates a unique transfer ID with the "tr_" prefix
func NewTransferID() string {
	return "tr_" + uuid.New().String()
}

// NewEndpointID generates a unique endpoint ID with the "ep_" prefix
func NewEndpointID() string {
	return "ep_" + uuid.New().String()
}

// NewTemplateID generates a unique transfer template ID with the "tpl_" prefix
func NewTemplateID() string {
	return "tpl_" + uuid.New().String()
}
