package session

import (
	"github.com/behrlich/tee-executor/internal/coverage"
	"github.com/behrlich/tee-executor/internal/gp"
	"github.com/behrlich/tee-executor/internal/interfaces"
)

// NewOPTEEBackend builds the OP-TEE TEECBackend: modern OP-TEE client
// libraries pass UUIDs as 16 raw bytes with no reordering (spec §3, §6).
func NewOPTEEBackend(libPath string, cov *coverage.Controller, obs interfaces.Observer, log interfaces.Logger) *TEECBackend {
	return &TEECBackend{
		Name:     "optee",
		LibPath:  libPath,
		Coverage: cov,
		Observer: obs,
		Log:      log,
		ParseUUID: gp.ParseRawUUID,
	}
}

// NewBeanpodBackend builds the Beanpod TEECBackend (libTEECommon.so):
// identical to OP-TEE except that START's 16 UUID bytes are reassembled as
// big-endian grouped fields rather than taken raw (spec §9, §143).
func NewBeanpodBackend(libPath string, cov *coverage.Controller, obs interfaces.Observer, log interfaces.Logger) *TEECBackend {
	return &TEECBackend{
		Name:     "beanpod",
		LibPath:  libPath,
		Coverage: cov,
		Observer: obs,
		Log:      log,
		ParseUUID: gp.ParseBeanpodUUID,
	}
}
