// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package google

var (
	DescribeRequest   = describeRequest
	SynthesizeRequest = synthesizeRequest
	TaskType          = taskType
)
