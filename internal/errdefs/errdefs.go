// Package errdefs defines the classified error taxonomy the orchestrator
// acts on. Raw tool diagnostics are always wrapped, never the sole signal.
package errdefs

import (
	"errors"
	"fmt"
)

type Class int

const (
	ClassUnknown Class = iota
	// ClassPrerequisite: missing tool or privilege. Nothing was touched.
	ClassPrerequisite
	// ClassValidation: bad selection or topology. Nothing was touched.
	ClassValidation
	// ClassDestructive: partition/pool/dataset creation failed mid-way.
	ClassDestructive
	// ClassDeployment: extraction or sync failure. Pool stays for retry.
	ClassDeployment
	// ClassConfiguration: chroot-phase failure. Root dataset stays intact.
	ClassConfiguration
	// ClassCleanup: automatic cleanup itself failed; manual remediation.
	ClassCleanup
)

func (c Class) String() string {
	switch c {
	case ClassPrerequisite:
		return "prerequisite"
	case ClassValidation:
		return "validation"
	case ClassDestructive:
		return "destructive-operation"
	case ClassDeployment:
		return "deployment"
	case ClassConfiguration:
		return "configuration"
	case ClassCleanup:
		return "cleanup"
	default:
		return "unknown"
	}
}

// ExitCode maps a class to the process exit code contract:
// 1 prerequisite, 2 validation, 3 stage failure after partial execution.
func (c Class) ExitCode() int {
	switch c {
	case ClassPrerequisite:
		return 1
	case ClassValidation:
		return 2
	default:
		return 3
	}
}

// Error is a classified installer failure. Hint describes what was
// partially created and must be torn down, or what manual remediation
// is needed when cleanup itself failed.
type Error struct {
	Class Class
	Stage string
	Hint  string
	Err   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error", e.Class)
	if e.Stage != "" {
		msg += " in stage " + e.Stage
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(class Class, stage string, err error) *Error {
	return &Error{Class: class, Stage: stage, Err: err}
}

func WithHint(class Class, stage string, err error, hint string) *Error {
	return &Error{Class: class, Stage: stage, Err: err, Hint: hint}
}

func Prerequisite(err error) *Error { return New(ClassPrerequisite, "", err) }

func Validation(err error) *Error { return New(ClassValidation, "", err) }

func Destructive(stage string, err error) *Error { return New(ClassDestructive, stage, err) }

func Deployment(stage string, err error) *Error { return New(ClassDeployment, stage, err) }

func Configuration(stage string, err error) *Error { return New(ClassConfiguration, stage, err) }

func Cleanup(stage string, err error) *Error { return New(ClassCleanup, stage, err) }

// ClassOf inspects a wrapped chain for a classified error.
func ClassOf(err error) Class {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Class
	}
	return ClassUnknown
}

// ExitCode returns the process exit code for any error. Unclassified
// errors count as stage failures.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if c := ClassOf(err); c != ClassUnknown {
		return c.ExitCode()
	}
	return 3
}
