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
This file bridges the build system and the runtime rule tables. The routing
and safety YAML files are baked into the compiled binary with the Go embed
package, so the default tables are immutable at runtime and travel with the
executable. Either table can still be overridden from a file at startup via
LoadRoutingRulesFile and LoadSafetyRulesFile.
*/

package rulesets

import (
	_ "embed"
)

// EmbeddedRoutingRules holds the raw byte content of routing_rules.yaml,
// populated at compile time.
//
//go:embed routing_rules.yaml
var EmbeddedRoutingRules []byte

// EmbeddedSafetyRules holds the raw byte content of safety_rules.yaml,
// populated at compile time.
//
//go:embed safety_rules.yaml
var EmbeddedSafetyRules []byte
