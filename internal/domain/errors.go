package domain

import "github.com/pkg/errors"

var (
	// ErrNotInitialized is returned by services used before their init routine ran.
	ErrNotInitialized = errors.New("service not initialized")
	// ErrIntegrity marks persisted artifacts that disagree with each other.
	ErrIntegrity = errors.New("integrity check failed")
	// ErrDimensionMismatch marks a vector whose length differs from the configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrEmptyCorpus is returned when ingestion produced no chunks at all.
	ErrEmptyCorpus = errors.New("corpus produced no chunks")
	// ErrQueryTooShort is returned by the ticker matcher when a minimum query length is configured.
	ErrQueryTooShort = errors.New("query too short")
	// ErrUnsupportedFormat is returned for files the loader has no reader for.
	ErrUnsupportedFormat = errors.New("unsupported document format")
)
