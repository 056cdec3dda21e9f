// Package bpath canonicalizes filesystem paths: collapsing repeated
// slashes, resolving "." and ".." components lexically, without touching
// the disk. Path resolution against the actual directory tree (namex)
// lives in package fs; this package only normalizes the string.
package bpath

import "nyxkern/ustr"

// Canonicalize rewrites p into an absolute, slash-collapsed path with all
// "." components removed and ".." components resolved against their
// preceding component. p must already be absolute (start with '/'); this
// is always true for paths built from fd.Cwd_t.Fullpath.
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	if !p.IsAbsolute() {
		panic("bpath: Canonicalize requires an absolute path")
	}
	parts := split(p)
	out := make([]ustr.Ustr, 0, len(parts))
	for _, c := range parts {
		switch {
		case len(c) == 0:
		case c.Isdot():
		case c.Isdotdot():
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, c)
		}
	}
	ret := ustr.MkUstrRoot()
	if len(out) == 0 {
		return ret
	}
	ret = ret[:0]
	ret = append(ret, '/')
	for i, c := range out {
		if i > 0 {
			ret = append(ret, '/')
		}
		ret = append(ret, c...)
	}
	return ret
}

// Split breaks p into its non-empty, non-slash components, in order.
// Callers walking a canonicalized path can assume no component is "."
// or "..": Canonicalize already resolved those.
func Split(p ustr.Ustr) []ustr.Ustr {
	return split(p)
}

func split(p ustr.Ustr) []ustr.Ustr {
	var parts []ustr.Ustr
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				parts = append(parts, p[start:i])
			}
			start = i + 1
		}
	}
	return parts
}
