package groupclient

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/mkocikowski/libkafka"
)

func TestUnitError(t *testing.T) {
	base := errors.New("bar")
	tests := []struct {
		err  error
		want string
	}{
		{
			err:  nil,
			want: `null`,
		},
		{
			err:  Wrap(nil),
			want: `null`,
		},
		{
			err:  Wrap(base),
			want: `"bar"`,
		},
		{
			err:  Errorf("foo: %w", base),
			want: `"foo: bar"`,
		},
	}
	for i, test := range tests {
		b, err := json.Marshal(test.err)
		if err != nil {
			t.Fatal(err)
		}
		if s := string(b); s != test.want {
			t.Fatal(i, test.err, s)
		}
	}
}

func TestUnitErrorf(t *testing.T) {
	e := Errorf("foo: %w", &libkafka.Error{Code: 1})
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	if s := string(b); s != `"foo: error code 1 (OFFSET_OUT_OF_RANGE)"` {
		t.Fatal(s)
	}
}

func TestUnitErrorIs(t *testing.T) {
	bar := errors.New("bar")
	foo := Errorf("foo: %w", bar)
	if !errors.Is(foo, bar) {
		t.Fatal("is not")
	}
}
