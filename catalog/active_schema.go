package catalog

// ActiveSchema 表上实际存在的列，只读快照。变更通过 With 和 Without 得到新快照
type ActiveSchema struct {
	columns []*ColumnDefinition
	index   map[string]int
}

func NewActiveSchema(columns []*ColumnDefinition) *ActiveSchema {
	s := &ActiveSchema{
		columns: append([]*ColumnDefinition(nil), columns...),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range s.columns {
		s.index[c.Name] = i
	}
	return s
}

func (s *ActiveSchema) Len() int {
	return len(s.columns)
}

func (s *ActiveSchema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

func (s *ActiveSchema) Type(name string) (ColumnType, bool) {
	i, ok := s.index[name]
	if !ok {
		return "", false
	}
	return s.columns[i].Type, true
}

// Names 列名，按加入顺序
func (s *ActiveSchema) Names() []string {
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.Name
	}
	return names
}

func (s *ActiveSchema) Columns() []*ColumnDefinition {
	return append([]*ColumnDefinition(nil), s.columns...)
}

// Map 列名到类型的映射
func (s *ActiveSchema) Map() map[string]ColumnType {
	m := make(map[string]ColumnType, len(s.columns))
	for _, c := range s.columns {
		m[c.Name] = c.Type
	}
	return m
}

func (s *ActiveSchema) Equal(other *ActiveSchema) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil || s.Len() != other.Len() {
		return false
	}
	for _, c := range s.columns {
		t, ok := other.Type(c.Name)
		if !ok || t != c.Type {
			return false
		}
	}
	return true
}

// With 追加列，已存在时返回自身
func (s *ActiveSchema) With(column *ColumnDefinition) *ActiveSchema {
	if s.Has(column.Name) {
		return s
	}
	return NewActiveSchema(append(s.Columns(), column))
}

// Without 移除列，不存在时返回自身
func (s *ActiveSchema) Without(name string) *ActiveSchema {
	i, ok := s.index[name]
	if !ok {
		return s
	}
	columns := s.Columns()
	return NewActiveSchema(append(columns[:i], columns[i+1:]...))
}
