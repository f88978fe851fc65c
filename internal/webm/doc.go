// Package webm implements the EBML/WebM container primitives needed to turn
// byte ranges of a growing recording into standalone-decodable chunks. It covers
// variable-length integer coding, element lookup, header extraction and
// synthesis, and cluster timecode rebasing.
package webm
