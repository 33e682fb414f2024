package chunk

import "strings"

// extractImports collects the file-level import statements verbatim, in
// source order: each entry is the whole trimmed statement text (a Go import
// declaration, grouped or single; a JS/TS import statement; a Python
// import or from-import statement). Bare module specifiers are not
// extracted from the statements.
func extractImports(tree *Tree, language string) []string {
	switch language {
	case "go":
		return importsFromDeclarations(tree, "import_declaration")
	case "typescript", "tsx", "javascript", "jsx":
		return importsFromDeclarations(tree, "import_statement")
	case "python":
		var imports []string
		imports = append(imports, importsFromDeclarations(tree, "import_statement")...)
		imports = append(imports, importsFromDeclarations(tree, "import_from_statement")...)
		return imports
	default:
		return nil
	}
}

func importsFromDeclarations(tree *Tree, nodeType string) []string {
	var imports []string
	for _, node := range tree.Root.Children {
		if node.Type == nodeType {
			imports = append(imports, strings.TrimSpace(node.GetContent(tree.Source)))
		}
	}
	return imports
}

// extractExports collects the names a file makes available to importers.
// For Go, capitalized top-level function and type names are collected
// (methods, constants and variables are not); JS/TS requires an
// explicit `export`; Python has no export keyword so every module-level
// def/class is treated as exported.
func extractExports(tree *Tree, language string) []string {
	switch language {
	case "go":
		return goExports(tree)
	case "typescript", "tsx", "javascript", "jsx":
		return jsExports(tree)
	case "python":
		return pythonExports(tree)
	default:
		return nil
	}
}

func goExports(tree *Tree) []string {
	var exports []string
	for _, node := range tree.Root.Children {
		var name string
		switch node.Type {
		case "function_declaration":
			for _, child := range node.Children {
				if child.Type == "identifier" {
					name = child.GetContent(tree.Source)
				}
			}
		case "type_declaration":
			for _, child := range node.Children {
				if child.Type == "type_spec" {
					for _, grandchild := range child.Children {
						if grandchild.Type == "type_identifier" {
							name = grandchild.GetContent(tree.Source)
						}
					}
				}
			}
		}
		if name != "" && isExportedGoName(name) {
			exports = append(exports, name)
		}
	}
	return exports
}

func isExportedGoName(name string) bool {
	r := rune(name[0])
	return r >= 'A' && r <= 'Z'
}

func jsExports(tree *Tree) []string {
	var exports []string
	for _, node := range tree.Root.Children {
		if node.Type != "export_statement" {
			continue
		}
		for _, child := range node.Children {
			switch child.Type {
			case "function_declaration", "class_declaration", "interface_declaration":
				for _, grandchild := range child.Children {
					if grandchild.Type == "identifier" || grandchild.Type == "type_identifier" {
						exports = append(exports, grandchild.GetContent(tree.Source))
					}
				}
			case "lexical_declaration", "variable_declaration":
				for _, grandchild := range child.Children {
					if grandchild.Type == "variable_declarator" {
						for _, ggc := range grandchild.Children {
							if ggc.Type == "identifier" {
								exports = append(exports, ggc.GetContent(tree.Source))
							}
						}
					}
				}
			case "identifier":
				exports = append(exports, child.GetContent(tree.Source))
			}
		}
	}
	return exports
}

func pythonExports(tree *Tree) []string {
	var exports []string
	for _, node := range tree.Root.Children {
		var name string
		switch node.Type {
		case "function_definition", "class_definition":
			for _, child := range node.Children {
				if child.Type == "identifier" {
					name = child.GetContent(tree.Source)
				}
			}
		}
		if name != "" && !strings.HasPrefix(name, "_") {
			exports = append(exports, name)
		}
	}
	return exports
}
