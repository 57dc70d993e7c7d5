package main

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/standardbeagle/cooker/internal/types"
)

// stubParser is a placeholder for the real recipe-syntax parser, an
// external collaborator of the core: the core only consumes
// already-parsed RecipeInfo values. It exists so `cmd/cooker` can
// exercise the full pipeline end to end against a directory of recipe
// files without a real dialect parser wired in: it derives PN/PV from
// the filename convention (name_version.bb) and nothing else. A
// production deployment replaces this with a real parser satisfying
// parserpool.Parser.
type stubParser struct{}

func (stubParser) Parse(ctx context.Context, file types.RecipeFile, appends []string) ([]types.RecipeInfo, error) {
	pn, pv := splitRecipeFilename(file.Path)
	info := types.RecipeInfo{
		PN:       pn,
		PV:       pv,
		Fn:       file.String(),
		Provides: []string{pn},
	}
	return []types.RecipeInfo{info}, nil
}

// splitRecipeFilename extracts (pn, pv) from a "name_version.bb" or
// "name_version.bbappend" basename.
func splitRecipeFilename(path string) (pn, pv string) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if idx := strings.LastIndex(base, "_"); idx >= 0 {
		return base[:idx], base[idx+1:]
	}
	return base, ""
}
