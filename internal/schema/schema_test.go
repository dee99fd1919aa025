package schema

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recstore/internal/backend"
	"github.com/roach88/recstore/internal/importer"
	"github.com/roach88/recstore/internal/memstore"
	"github.com/roach88/recstore/internal/payload"
	"github.com/roach88/recstore/internal/record"
)

const productSchema = `
entity: Product: {
	key: "sku"
	fields: {
		sku:   {type: "string", required: true}
		title: {type: "string"}
		stock: {type: "int"}
		price: {type: "float", required: true}
		live:  {type: "bool"}
		meta:  {type: "any"}
	}
}

entity: Tag: {
	key: "name"
	fields: name: {type: "string"}
}
`

func mustParse(t *testing.T, s string) payload.Payload {
	t.Helper()
	p, err := payload.Parse([]byte(s))
	require.NoError(t, err)
	return p
}

func TestCompile(t *testing.T) {
	s, err := Compile(productSchema)
	require.NoError(t, err)
	require.Len(t, s.Entities, 2)

	product, ok := s.Entity("Product")
	require.True(t, ok)
	assert.Equal(t, "sku", product.KeyPath)
	assert.Equal(t, []Field{
		{Name: "sku", Type: TypeString, Required: true},
		{Name: "title", Type: TypeString},
		{Name: "stock", Type: TypeInt},
		{Name: "price", Type: TypeFloat, Required: true},
		{Name: "live", Type: TypeBool},
		{Name: "meta", Type: TypeAny},
	}, product.Fields)

	assert.Equal(t, []record.Descriptor{
		{Name: "Product", KeyPath: "sku"},
		{Name: "Tag", KeyPath: "name"},
	}, s.Descriptors())

	_, ok = s.Entity("Missing")
	assert.False(t, ok)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{"no entities", `other: 1`, "no entities declared"},
		{"empty entity block", `entity: {}`, "no entities declared"},
		{"missing key", `entity: A: fields: id: {type: "string"}`, "key is required"},
		{"empty key", `entity: A: {key: "", fields: id: {type: "string"}}`, "key must not be empty"},
		{"undeclared key", `entity: A: {key: "id", fields: name: {type: "string"}}`, `key "id" is not a declared field`},
		{"unknown type", `entity: A: {key: "id", fields: id: {type: "uuid"}}`, `unknown type "uuid"`},
		{"syntax", `entity: A: {key: `, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.src)
			require.Error(t, err)
			if tt.wantErr != "" {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestCompile_DottedKeyNeedNotBeDeclared(t *testing.T) {
	s, err := Compile(`entity: Event: {key: "ref.id", fields: ref: {type: "any"}}`)
	require.NoError(t, err)

	kind := s.Entities[0].Kind()
	key, ok := kind.DeriveKey(mustParse(t, `{"ref":{"id":"e1"}}`))
	assert.True(t, ok)
	assert.Equal(t, "e1", key)
}

func TestCompileError_Position(t *testing.T) {
	_, err := Compile("entity: A: {key: \"id\", fields: id: {type: \"uuid\"}}")
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "A.fields.id.type", ce.Field)
	assert.True(t, ce.Pos.IsValid())
	assert.Contains(t, ce.Error(), "schema.cue:1:")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.cue"), []byte(`package test
entity: A: {key: "id", fields: id: {type: "string"}}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.cue"), []byte(`package test
entity: B: {key: "code", fields: code: {type: "string"}}
`), 0o644))

	s, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, s.Entities, 2)
	assert.Equal(t, "A", s.Entities[0].Name)
	assert.Equal(t, "B", s.Entities[1].Name)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	_, err = Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no CUE files")

	file := filepath.Join(t.TempDir(), "x.cue")
	require.NoError(t, os.WriteFile(file, []byte("package test"), 0o644))
	_, err = Load(file)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestLoad_ShippedTestModel(t *testing.T) {
	s, err := Load(filepath.Join("..", "..", "schema"))
	require.NoError(t, err)

	e, ok := s.Entity("TestModel")
	require.True(t, ok)
	assert.Equal(t, "id", e.KeyPath)
	assert.Equal(t, []Field{
		{Name: "id", Type: TypeString, Required: true},
		{Name: "name", Type: TypeString},
	}, e.Fields)
}

func TestMerge(t *testing.T) {
	a, err := Compile(`entity: A: {key: "id", fields: id: {type: "string"}}
entity: B: {key: "id", fields: id: {type: "string"}}`)
	require.NoError(t, err)
	b, err := Compile(`entity: B: {key: "code", fields: code: {type: "string"}}`)
	require.NoError(t, err)

	m := a.Merge(b)
	assert.Equal(t, []record.Descriptor{
		{Name: "A", KeyPath: "id"},
		{Name: "B", KeyPath: "code"},
	}, m.Descriptors())
}

func TestDocument_ApplyUpdate(t *testing.T) {
	s, err := Compile(productSchema)
	require.NoError(t, err)
	product, _ := s.Entity("Product")

	doc := NewDocument(product)
	err = doc.ApplyUpdate(mustParse(t, `{"sku":"p1","price":"9.5","stock":"12","live":1,"meta":{"a":[1,2]},"extra":true}`))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"sku":   "p1",
		"title": "",
		"stock": int64(12),
		"price": 9.5,
		"live":  true,
		"meta":  map[string]any{"a": []any{int64(1), int64(2)}},
	}, doc.Fields())

	v, ok := doc.Get("extra")
	assert.False(t, ok, "undeclared fields are dropped")
	assert.Nil(t, v)
}

func TestDocument_RequiredField(t *testing.T) {
	s, err := Compile(productSchema)
	require.NoError(t, err)
	product, _ := s.Entity("Product")

	doc := NewDocument(product)
	err = doc.ApplyUpdate(mustParse(t, `{"sku":"p1","price":"cheap"}`))
	require.Error(t, err)

	var ve *record.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "price", ve.Field)
	assert.Contains(t, ve.Message, "float")
}

func TestDocument_JSONRoundTrip(t *testing.T) {
	s, err := Compile(productSchema)
	require.NoError(t, err)
	product, _ := s.Entity("Product")

	doc := NewDocument(product)
	require.NoError(t, doc.ApplyUpdate(mustParse(t, `{"sku":"p1","price":2,"stock":3,"meta":[true]}`)))

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sku":"p1","title":"","stock":3,"price":2,"live":false,"meta":[true]}`, string(data))

	back := NewDocument(product)
	require.NoError(t, json.Unmarshal(data, back))
	assert.Equal(t, doc.Fields(), back.Fields())

	price, _ := back.Get("price")
	assert.IsType(t, float64(0), price)
	stock, _ := back.Get("stock")
	assert.IsType(t, int64(0), stock)
}

func TestKind_Import(t *testing.T) {
	ctx := context.Background()
	s, err := Load(filepath.Join("..", "..", "schema"))
	require.NoError(t, err)
	e, _ := s.Entity("TestModel")

	b := memstore.New()
	defer b.Close()
	require.NoError(t, b.Register(ctx, []backend.Entity{{Name: e.Name, KeyPath: e.KeyPath}}))

	kind := e.Kind()
	res, err := importer.Import(ctx, b, kind, []payload.Payload{
		mustParse(t, `{"id":"1","name":"A"}`),
		mustParse(t, `{"id":"2"}`),
		mustParse(t, `{"name":"nokey"}`),
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, 1, res.Stats.Skipped)

	name, _ := res.Records[0].Get("name")
	assert.Equal(t, "A", name)
	name, _ = res.Records[1].Get("name")
	assert.Equal(t, "", name)
	assert.Same(t, e, res.Records[0].Entity())
}
