package sqlitepool

// NamedArg binds a query parameter by name instead of position.
//
// It is accepted anywhere positional arguments are, mirroring sql.Named:
//
//	cursor, err := handle.Query(ctx,
//		"SELECT * FROM users WHERE name = :name",
//		sqlitepool.Named("name", "ada"))
type NamedArg struct {
	Name  string
	Value any
}

// Named is a factory method for NamedArg. The name must not carry the
// parameter prefix (":", "@" or "$").
func Named(name string, value any) NamedArg {
	return NamedArg{Name: name, Value: value}
}
