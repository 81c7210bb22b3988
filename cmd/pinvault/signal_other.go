//go:build !unix

package main

import "pinvault/internal/pv"

func watchBackground(*pv.Session) func() { return func() {} }
