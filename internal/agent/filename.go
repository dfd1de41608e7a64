package agent

import (
	"path"
	"strings"
)

// SignedSuffix is inserted before the final extension of a signed artifact.
const SignedSuffix = "_firmado"

// DeriveSignedFileName returns the reference of the signed artifact:
// report.pdf -> report_firmado.pdf, archive.tar.gz -> archive.tar_firmado.gz,
// noext -> noext_firmado. Only the last path segment is considered, so a dot
// in a directory name never moves the suffix.
func DeriveSignedFileName(ref string) string {
	start := strings.LastIndex(ref, "/") + 1
	dot := strings.LastIndex(ref[start:], ".")
	if dot < 0 {
		return ref + SignedSuffix
	}
	dot += start
	return ref[:dot] + SignedSuffix + ref[dot:]
}

// SignedObjectKey is the storage key of one signer's signed copy of ref:
// docs/contrato.pdf signed by ana -> docs/signed/ana/contrato_firmado.pdf.
// Co-signers of a document never share a key.
func SignedObjectKey(ref, signerID string) string {
	seg := strings.ReplaceAll(signerID, "/", "_")
	switch seg {
	case "", ".", "..":
		seg = "_" + seg
	}
	return DeriveSignedFileName(path.Join(path.Dir(ref), "signed", seg, path.Base(ref)))
}
