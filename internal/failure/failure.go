// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package failure classifies pipeline errors so the batch summary can report
// a stable reason code for each failed message.
package failure

import (
	goerrors "github.com/goliatone/go-errors"
)

// Text codes carried by classified errors.
const (
	CodeOracleUnavailable   = "ORACLE_UNAVAILABLE"
	CodeBrokerNotFound      = "BROKER_NOT_FOUND"
	CodeClientNotIdentified = "CLIENT_NOT_IDENTIFIED"
	CodeFolderMissing       = "STORAGE_FOLDER_MISSING"
	CodeGroupFailed         = "ATTACHMENT_GROUP_FAILED"
	CodeStorage             = "STORAGE_FAILURE"
	CodePersistence         = "PERSISTENCE_FAILURE"
	CodeInternal            = "INTERNAL"
)

func build(source error, category goerrors.Category, message, code string, metadata map[string]any) error {
	var err *goerrors.Error
	if source == nil {
		err = goerrors.New(message, category)
	} else {
		err = goerrors.Wrap(source, category, message)
	}
	err = err.WithTextCode(code)
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// OracleUnavailable marks an oracle call that exhausted its retries.
func OracleUnavailable(source error, attempts int) error {
	return build(source, goerrors.CategoryExternal, "classification oracle unavailable",
		CodeOracleUnavailable, map[string]any{"attempts": attempts})
}

// BrokerNotFound marks a message with no identifiable broker.
func BrokerNotFound(messageID string) error {
	return build(nil, goerrors.CategoryNotFound, "no broker matches the message addresses",
		CodeBrokerNotFound, map[string]any{"message_id": messageID})
}

// ClientNotIdentified marks a new-case attempt without a customer name.
func ClientNotIdentified(messageID string) error {
	return build(nil, goerrors.CategoryNotFound, "client not identified",
		CodeClientNotIdentified, map[string]any{"message_id": messageID})
}

// FolderMissing is the fatal integrity error for an absent storage folder.
func FolderMissing(owner, ownerID string) error {
	return build(nil, goerrors.CategoryInternal, owner+" has no storage folder",
		CodeFolderMissing, map[string]any{"owner": owner, "owner_id": ownerID})
}

// GroupFailed wraps a failure isolated to one attachment group.
func GroupFailed(source error, masterType string) error {
	return build(source, goerrors.CategoryOperation, "attachment group failed",
		CodeGroupFailed, map[string]any{"master_type": masterType})
}

// Storage wraps a blob storage failure.
func Storage(source error, op string) error {
	return build(source, goerrors.CategoryExternal, "storage "+op+" failed",
		CodeStorage, map[string]any{"op": op})
}

// Persistence wraps a persistence service failure.
func Persistence(source error, op string) error {
	return build(source, goerrors.CategoryExternal, "persistence "+op+" failed",
		CodePersistence, map[string]any{"op": op})
}

// TextCode extracts the text code of a classified error, or CodeInternal.
func TextCode(err error) string {
	if err == nil {
		return ""
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.TextCode != "" {
		return rich.TextCode
	}
	return CodeInternal
}

// IsFatal reports whether err signals a data-integrity problem that needs an operator.
func IsFatal(err error) bool {
	return TextCode(err) == CodeFolderMissing
}
