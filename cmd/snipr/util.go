package main

import (
	"encoding/json"
	"io"
)

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
