package sqlite

import (
	"time"

	"github.com/jinzhu/copier"
	"github.com/uptrace/bun"

	"github.com/rhuss/todoapi/pkg/api"
)

type todoRow struct {
	bun.BaseModel `bun:"table:todos,alias:t"`

	ID          string `bun:",pk"`
	Title       string `bun:",notnull"`
	Description string `bun:",notnull"`
	Completed   bool   `bun:",notnull"`
	DueDate     *time.Time
	CreatedBy   string    `bun:",notnull"`
	CreatedAt   time.Time `bun:",notnull"`
	UpdatedAt   time.Time `bun:",notnull"`
}

type userRow struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           string    `bun:",pk"`
	Username     string    `bun:",unique,notnull"`
	PasswordHash string    `bun:",notnull"`
	CreatedAt    time.Time `bun:",notnull"`
}

type nonceRow struct {
	bun.BaseModel `bun:"table:nonces,alias:n"`

	Value      string    `bun:",pk"`
	IssuedAt   time.Time `bun:",notnull"`
	ExpiresAt  time.Time `bun:",notnull"`
	ConsumedAt *time.Time
}

type tokenRow struct {
	bun.BaseModel `bun:"table:access_tokens,alias:a"`

	ID        string    `bun:",pk"`
	Subject   string    `bun:",notnull"`
	Username  string    `bun:",notnull"`
	IssuedAt  time.Time `bun:",notnull"`
	ExpiresAt time.Time `bun:",notnull"`
}

// models lists every table created on open.
var models = []any{
	(*todoRow)(nil),
	(*userRow)(nil),
	(*nonceRow)(nil),
	(*tokenRow)(nil),
}

// copyOpts teaches copier to move api.Timestamp in and out of the
// time.Time columns.
var copyOpts = copier.Option{
	Converters: []copier.TypeConverter{
		{
			SrcType: api.Timestamp{},
			DstType: time.Time{},
			Fn: func(src any) (any, error) {
				return src.(api.Timestamp).UTC(), nil
			},
		},
		{
			SrcType: time.Time{},
			DstType: api.Timestamp{},
			Fn: func(src any) (any, error) {
				return api.NewTimestamp(src.(time.Time)), nil
			},
		},
		{
			SrcType: &api.Timestamp{},
			DstType: &time.Time{},
			Fn: func(src any) (any, error) {
				ts, _ := src.(*api.Timestamp)
				if ts == nil {
					return (*time.Time)(nil), nil
				}
				t := ts.UTC()
				return &t, nil
			},
		},
		{
			SrcType: &time.Time{},
			DstType: &api.Timestamp{},
			Fn: func(src any) (any, error) {
				t, _ := src.(*time.Time)
				if t == nil {
					return (*api.Timestamp)(nil), nil
				}
				ts := api.NewTimestamp(*t)
				return &ts, nil
			},
		},
	},
}

func toTodoRow(todo *api.Todo) (*todoRow, error) {
	row := new(todoRow)
	if err := copier.CopyWithOption(row, todo, copyOpts); err != nil {
		return nil, err
	}
	return row, nil
}

func fromTodoRow(row *todoRow) (*api.Todo, error) {
	todo := new(api.Todo)
	if err := copier.CopyWithOption(todo, row, copyOpts); err != nil {
		return nil, err
	}
	return todo, nil
}
