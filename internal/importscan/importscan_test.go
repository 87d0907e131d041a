package importscan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractTypeScriptImports(t *testing.T) {
	lines := strings.Split(`import { useState } from "react"
import type { Props } from "./types"

export function Widget(props: Props) {
  return null
}
`, "\n")

	got := Extract(lines, "ts")
	require.Equal(t, []string{
		`import { useState } from "react"`,
		`import type { Props } from "./types"`,
	}, got)
}

func TestExtractPythonImports(t *testing.T) {
	lines := strings.Split(`import os
from typing import Optional

def main():
    pass
`, "\n")

	got := Extract(lines, "py")
	require.Equal(t, []string{"import os", "from typing import Optional"}, got)
}

func TestExtractGoImportBlock(t *testing.T) {
	lines := strings.Split(`package main

import (
	"fmt"
)

func main() {}
`, "\n")

	got := Extract(lines, "go")
	require.Equal(t, []string{`import (`}, got)
}

func TestExtractHaltsAfterThreeConsecutiveMisses(t *testing.T) {
	lines := strings.Split(`import os

x = 1
y = 2
z = 3
import sys
`, "\n")

	got := Extract(lines, "py")
	// "import sys" comes after three consecutive non-matching lines
	// (x = 1, y = 2, z = 3) so scanning stops before reaching it.
	require.Equal(t, []string{"import os"}, got)
}

func TestExtractUnknownLanguageUsesTSDefault(t *testing.T) {
	lines := strings.Split(`import Foo from "./foo"
`, "\n")
	got := Extract(lines, "unknown")
	require.Equal(t, []string{`import Foo from "./foo"`}, got)
}

func TestExtractIsIdempotentOnPrefixRepetition(t *testing.T) {
	var single []string
	for i := 0; i < 50; i++ {
		single = append(single, `import "fmt"`)
	}
	doubled := append(append([]string{}, single...), single...)

	require.Equal(t, Extract(single, "go"), Extract(doubled, "go"))
}
