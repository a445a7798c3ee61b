package synapse

import "errors"

// ErrShapeMismatch indicates a tensor whose rank or dimensions are
// inconsistent with the synapse's configured shape, input size, or batch
// size. Shape errors are deterministic and never retried.
var ErrShapeMismatch = errors.New("shape mismatch")

// ErrConfiguration indicates an unsupported padding mode, optimizer type,
// or otherwise invalid construction-time configuration.
var ErrConfiguration = errors.New("invalid configuration")
