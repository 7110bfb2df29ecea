package scanner

import "confusage/internal/graph"

// Queries holds the declaration queries per source language. Every query
// captures the declaration node as @def and its name as @name.
var Queries = map[string]string{
	"java": `
		(class_declaration name: (identifier) @name) @def
		(interface_declaration name: (identifier) @name) @def
		(enum_declaration name: (identifier) @name) @def
		(record_declaration name: (identifier) @name) @def
	`,
}

// typeDeclKinds maps a declaration node kind to the class kind it declares.
var typeDeclKinds = map[string]graph.ClassKind{
	"class_declaration":     graph.ClassKindClass,
	"interface_declaration": graph.ClassKindInterface,
	"enum_declaration":      graph.ClassKindEnum,
	"record_declaration":    graph.ClassKindRecord,
}
