// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
This file serves as the bridge between the build system and the runtime logic. It utilizes the Go
embed package to bake the license_policy_patterns.yaml file directly into the compiled binary.
This ensures that the default policy rules are immutable at runtime and travel with the executable.
*/

package enforcement

import (
	_ "embed"
)

// LicensePolicyPatterns holds the raw byte content of the 'license_policy_patterns.yaml' file.
//
// This variable is populated at compile-time using the Go 'embed' directive. By baking the
// YAML directly into the binary, we ensure that the default classification policy is immutable
// and cannot be tampered with on the host filesystem without recompiling the application.
// Operators may still substitute their own policy file at run time; that path goes through
// the same validation as the embedded copy.
//
// Usage:
//
//	// Pass these bytes directly to yaml.Unmarshal
//	err := yaml.Unmarshal(enforcement.LicensePolicyPatterns, &targetStruct)
//
//go:embed license_policy_patterns.yaml
var LicensePolicyPatterns []byte
