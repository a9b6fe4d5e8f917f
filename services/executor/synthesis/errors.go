// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package synthesis

import "errors"

var (
	// ErrUnknownBackend indicates Config.Backend names no implementation.
	ErrUnknownBackend = errors.New("unknown synthesis backend")

	// ErrMissingAPIKey indicates a backend that needs a key was given none.
	ErrMissingAPIKey = errors.New("synthesis API key is missing")

	// ErrMissingFolderID indicates the yandex backend was given no folder.
	ErrMissingFolderID = errors.New("yandex folder ID is missing")

	// ErrUpstreamStatus indicates the backend answered with a non-2xx status.
	ErrUpstreamStatus = errors.New("upstream returned non-success status")

	// ErrMalformedResponse indicates the backend answer had no generated text.
	ErrMalformedResponse = errors.New("malformed model response")
)
