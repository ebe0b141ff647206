// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package documents

import (
	"strings"
	"unicode"
)

// RawType is the per-attachment detection result.
type RawType string

const (
	RawIdentityFront       RawType = "IDENTITY_FRONT"
	RawIdentityBack        RawType = "IDENTITY_BACK"
	RawIdentityComplete    RawType = "IDENTITY_COMPLETE"
	RawPayslip             RawType = "PAYSLIP"
	RawTaxNotice           RawType = "TAX_NOTICE"
	RawCompanyRegistration RawType = "COMPANY_REGISTRATION"
	RawBankStatement       RawType = "BANK_STATEMENT"
	RawFamilyRecord        RawType = "FAMILY_RECORD"
	RawUnrecognized        RawType = "UNRECOGNIZED"
)

// MasterType is the category attachments are grouped and stored under.
type MasterType string

const (
	MasterIdentity            MasterType = "IDENTITY"
	MasterPayslip             MasterType = "PAYSLIP"
	MasterTaxNotice           MasterType = "TAX_NOTICE"
	MasterCompanyRegistration MasterType = "COMPANY_REGISTRATION"
	MasterBankStatement       MasterType = "BANK_STATEMENT"
	MasterFamilyRecord        MasterType = "FAMILY_RECORD"
	MasterOther               MasterType = "OTHER"
)

var masterOf = map[RawType]MasterType{
	RawIdentityFront:       MasterIdentity,
	RawIdentityBack:        MasterIdentity,
	RawIdentityComplete:    MasterIdentity,
	RawPayslip:             MasterPayslip,
	RawTaxNotice:           MasterTaxNotice,
	RawCompanyRegistration: MasterCompanyRegistration,
	RawBankStatement:       MasterBankStatement,
	RawFamilyRecord:        MasterFamilyRecord,
}

var prettyNames = map[MasterType]string{
	MasterIdentity:            "Identity",
	MasterPayslip:             "Payslip",
	MasterTaxNotice:           "Tax_Notice",
	MasterCompanyRegistration: "Company_Registration",
	MasterBankStatement:       "Bank_Statements",
	MasterFamilyRecord:        "Family_Record",
	MasterOther:               "Other_Documents",
}

// MasterOf collapses a raw type to its master type. Anything unknown lands
// in the other-documents bucket.
func MasterOf(raw RawType) MasterType {
	if m, ok := masterOf[raw]; ok {
		return m
	}
	return MasterOther
}

// PrettyName is the file name prefix of a master type.
func PrettyName(m MasterType) string {
	if p, ok := prettyNames[m]; ok {
		return p
	}
	return prettyNames[MasterOther]
}

// keywordRule maps filename tokens to a raw type. Short keywords must match a
// whole token; prefixes match the start of a token.
type keywordRule struct {
	raw      RawType
	tokens   []string
	prefixes []string
}

// Order matters: the first matching rule wins. Identity keywords are checked
// last so a "releve d'identite bancaire" stays a bank document.
var filenameRules = []keywordRule{
	{raw: RawCompanyRegistration, tokens: []string{"kbis", "rcs"}, prefixes: []string{"registration", "siren"}},
	{raw: RawTaxNotice, tokens: []string{"avis", "tax", "ir"}, prefixes: []string{"impot", "imposition", "fiscal"}},
	{raw: RawPayslip, tokens: []string{"bs", "paie", "pay"}, prefixes: []string{"salaire", "payslip", "bulletin", "fichedepaie"}},
	{raw: RawBankStatement, tokens: []string{"rlv", "bank", "rib"}, prefixes: []string{"releve", "bancaire", "banque", "statement"}},
	{raw: RawFamilyRecord, tokens: []string{"livret"}, prefixes: []string{"famil"}},
}

var identityTokens = []string{"cni", "id", "passport", "passeport", "titre"}
var identityPrefixes = []string{"identit"}
var frontTokens = []string{"recto", "front"}
var backTokens = []string{"verso", "back"}

// ClassifyName detects the raw type of an attachment from its file name.
func ClassifyName(filename string) RawType {
	base := filename
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	toks := tokens(base)
	if len(toks) == 0 {
		return RawUnrecognized
	}

	for _, rule := range filenameRules {
		if anyToken(toks, rule.tokens, rule.prefixes) {
			return rule.raw
		}
	}
	// A bare "recto.jpg" or "verso.jpg" is an identity scan too.
	front := anyToken(toks, frontTokens, nil)
	back := anyToken(toks, backTokens, nil)
	if front || back || anyToken(toks, identityTokens, identityPrefixes) {
		return identitySide(front, back)
	}
	return RawUnrecognized
}

func identitySide(front, back bool) RawType {
	switch {
	case front && !back:
		return RawIdentityFront
	case back && !front:
		return RawIdentityBack
	default:
		return RawIdentityComplete
	}
}

// textRules are phrases looked for in the first page of a PDF.
var textRules = []struct {
	raw     RawType
	phrases []string
}{
	{RawCompanyRegistration, []string{"extrait kbis", "registre du commerce", "certificate of incorporation"}},
	{RawTaxNotice, []string{"avis d'impot", "impot sur le revenu", "revenu fiscal de reference", "tax assessment"}},
	{RawPayslip, []string{"bulletin de paie", "bulletin de salaire", "salaire net", "net a payer", "net pay"}},
	{RawBankStatement, []string{"releve de compte", "releve bancaire", "bank statement", "solde crediteur"}},
	{RawFamilyRecord, []string{"livret de famille", "family record"}},
	{RawIdentityComplete, []string{"carte nationale d'identite", "passeport", "passport", "identity card"}},
}

// ClassifyText detects a raw type from extracted document text.
func ClassifyText(text string) RawType {
	if strings.TrimSpace(text) == "" {
		return RawUnrecognized
	}
	norm := strings.ToLower(foldAccents(text))
	norm = strings.ReplaceAll(norm, "’", "'")
	norm = strings.Join(strings.Fields(norm), " ")
	for _, rule := range textRules {
		for _, p := range rule.phrases {
			if strings.Contains(norm, p) {
				return rule.raw
			}
		}
	}
	return RawUnrecognized
}

// tokens splits on anything but letters, so "cni2024" yields "cni".
func tokens(s string) []string {
	s = strings.ToLower(foldAccents(s))
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

func anyToken(toks, exact, prefixes []string) bool {
	for _, t := range toks {
		for _, e := range exact {
			if t == e {
				return true
			}
		}
		for _, p := range prefixes {
			if strings.HasPrefix(t, p) {
				return true
			}
		}
	}
	return false
}
