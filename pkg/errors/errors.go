// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
//
// Codes follow the area.entity.op.reason layout; the last segment drives
// classification (IsNotFound, IsConflict, ...) and the HTTP mapping.
type Code string

const (
	CodeStoreVideoGetNotFound     Code = "store.video.get.not_found"
	CodeStoreVideoUpsertInvalid   Code = "store.video.upsert.invalid_input"
	CodeStoreIndexInsertDimension Code = "store.index.insert.dimension_mismatch"
	CodeStoreIndexOpenInvalid     Code = "store.index.open.invalid_input"
	CodeStoreIndexQueryDatabase   Code = "store.index.query.database_failure"
	CodeStoreDatabaseFailure      Code = "store.database.failure"
	CodeStoreBackendUnsupported   Code = "store.backend.unsupported"

	CodeMediaSourceUnreadable Code = "media.source.open.unreadable"
	CodeMediaDecodeFailure    Code = "media.frame.decode.failure"
	CodeMediaAudioExtract     Code = "media.audio.extract.failure"
	CodeMediaThumbnailFailure Code = "media.thumbnail.encode.failure"
	CodeMediaToolNotFound     Code = "media.tool.lookup.not_found"

	CodeIngestRunConflict       Code = "ingest.run.start.conflict"
	CodeIngestObservationsEmpty Code = "ingest.run.observations.empty"
	CodeIngestRunFailure        Code = "ingest.run.failure"
	CodeIngestRunPanic          Code = "ingest.run.panic.failure"
	CodeIngestNotRunning        Code = "ingest.run.stop.conflict"
	CodeIngestAudioUnavailable  Code = "ingest.audio.start.invalid_input"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"
	CodeConfigAlreadyExists        Code = "config.init.write.conflict"

	CodeProviderDescriberFailure   Code = "provider.describer.call.upstream_failure"
	CodeProviderEmbedderFailure    Code = "provider.embedder.call.upstream_failure"
	CodeProviderSynthesizerFailure Code = "provider.synthesizer.call.upstream_failure"
	CodeProviderTranscriberFailure Code = "provider.transcriber.call.upstream_failure"
	CodeProviderRequestInvalid     Code = "provider.request.invalid"
	CodeProviderResponseInvalid    Code = "provider.response.invalid"
	CodeProviderUpstreamFailure    Code = "provider.upstream.failure"
	CodeProviderNotFound           Code = "provider.registry.not_found"
	CodeProviderInvalidModelRef    Code = "provider.routing.invalid_model_ref"
	CodeProviderCapabilityMissing  Code = "provider.capability.not_found"
	CodeProviderKeyInvalid         Code = "provider.key.validate.unauthorized"
	CodeProviderKeyCheckFailed     Code = "provider.key.check.upstream_failure"

	CodeProgressRelayFailure Code = "progress.relay.publish.failure"

	CodeSecurityScannerFailure Code = "security.scanner.failure"
	CodeSecurityContentBlocked Code = "security.scanner.content.blocked"

	CodeSecretInvalidInput   Code = "secret.key.validate.invalid_input"
	CodeSecretNotFound       Code = "secret.key.get.not_found"
	CodeSecretStoreFailure   Code = "secret.key.store.failure"
	CodeSecretDeleteFailure  Code = "secret.key.delete.failure"
	CodeSecretListFailure    Code = "secret.index.list.failure"
	CodeSecretResolveFailure Code = "secret.uri.resolve.failure"

	CodeServerRequestInvalid   Code = "server.request.invalid"
	CodeServerAuthUnauthorized Code = "server.auth.unauthorized"
	CodeServerInternalFailure  Code = "server.internal.failure"
	CodeServerEntityNotFound   Code = "server.entity.not_found"
	CodeServerConfigInvalid    Code = "server.config.invalid"
	CodeServerStartFailure     Code = "server.start.failure"
	CodeServerShutdownFailure  Code = "server.shutdown.failure"

	CodeCLIServerNotRunning Code = "cli.server.not_running"
	CodeCLIRequestFailure   Code = "cli.request.failure"
	CodeCLIResponseInvalid  Code = "cli.response.invalid"
	CodeCLISetupFailure     Code = "cli.setup.failure"
	CodeCLIInputInvalid     Code = "cli.input.invalid"
)

// Role names an external collaborator in ExternalCallFailure errors.
type Role string

const (
	RoleDescriber   Role = "describer"
	RoleEmbedder    Role = "embedder"
	RoleSynthesizer Role = "synthesizer"
	RoleTranscriber Role = "transcriber"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldScopeID(value string) Attr {
	return Field("scope_id", value)
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func FieldRole(value Role) Attr {
	return Field("role", string(value))
}

func FieldPath(value string) Attr {
	return Field("path", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

// CallFailure builds the ExternalCallFailure for a collaborator role.
//
// oops reports the deepest code in a chain, so an already-coded cause is
// flattened into the message instead of wrapped.
func CallFailure(role Role, err error, fields ...Attr) error {
	if err == nil {
		return nil
	}
	fields = append(fields, FieldRole(role))
	if _, ok := oops.AsOops(err); ok {
		return New(roleCode(role), string(role)+" call failed: "+err.Error(), fields...)
	}
	return Wrap(err, roleCode(role), string(role)+" call failed", fields...)
}

func roleCode(role Role) Code {
	switch role {
	case RoleDescriber:
		return CodeProviderDescriberFailure
	case RoleEmbedder:
		return CodeProviderEmbedderFailure
	case RoleSynthesizer:
		return CodeProviderSynthesizerFailure
	case RoleTranscriber:
		return CodeProviderTranscriberFailure
	default:
		return CodeProviderUpstreamFailure
	}
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// RoleOf reports which collaborator an ExternalCallFailure came from.
func RoleOf(err error) (Role, bool) {
	switch CodeOf(err) {
	case CodeProviderDescriberFailure:
		return RoleDescriber, true
	case CodeProviderEmbedderFailure:
		return RoleEmbedder, true
	case CodeProviderSynthesizerFailure:
		return RoleSynthesizer, true
	case CodeProviderTranscriberFailure:
		return RoleTranscriber, true
	}
	return "", false
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsConflict(err error) bool {
	return reason(CodeOf(err)) == "conflict"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format" ||
		r == "dimension_mismatch"
}

func IsUnauthorized(err error) bool {
	r := reason(CodeOf(err))
	return r == "unauthorized" || r == "forbidden" || r == "denied"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	r := reason(code)
	return r == "upstream_failure" || (strings.Contains(string(code), "upstream") && r == "failure")
}

func IsSourceUnreadable(err error) bool {
	return reason(CodeOf(err)) == "unreadable"
}

func IsDimensionMismatch(err error) bool {
	return HasCode(err, CodeStoreIndexInsertDimension)
}

func IsEmptyResult(err error) bool {
	return reason(CodeOf(err)) == "empty"
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsSourceUnreadable(err), IsEmptyResult(err):
		return http.StatusUnprocessableEntity
	case IsUnauthorized(err):
		if reason(CodeOf(err)) == "forbidden" || reason(CodeOf(err)) == "denied" {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case IsUpstreamFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
