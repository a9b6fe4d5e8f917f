// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"github.com/AleutianAI/TestForge/services/executor/datatypes"
	"github.com/AleutianAI/TestForge/services/executor/engine"
)

// noTestsDetails is reported when synthesis returns nothing usable.
const noTestsDetails = "LLM failed to generate valid test code"

// Aggregate builds the success response for a completed engine run.
func Aggregate(code, tests string, result *engine.TestExecutionResult) datatypes.ExecutionResponse {
	var outcomes []datatypes.TestOutcome
	if result != nil {
		outcomes = result.Outcomes
	}
	return datatypes.NewSuccessResponse(code, tests, outcomes)
}

// FromError builds the failure response for err. Stage errors keep their
// kind and details; anything else is UNEXPECTED_ERROR.
func FromError(err error) datatypes.ExecutionResponse {
	if err == nil {
		return datatypes.NewFailureResponse(datatypes.ErrUnexpectedError, "Unexpected error: no error information")
	}
	if se, ok := datatypes.AsStageError(err); ok && se.Kind.Valid() {
		return datatypes.NewFailureResponse(se.Kind, se.Details)
	}
	return datatypes.NewFailureResponse(datatypes.ErrUnexpectedError, "Unexpected error: "+err.Error())
}

// NoTestsGenerated is the response for blank synthesized tests.
func NoTestsGenerated() datatypes.ExecutionResponse {
	return datatypes.NewFailureResponse(datatypes.ErrNoTestsGenerated, noTestsDetails)
}
