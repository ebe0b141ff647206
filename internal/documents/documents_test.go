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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brokerdesk/intake/internal/models"
)

// TestClassifyName verifies the filename keyword table.
func TestClassifyName(t *testing.T) {
	cases := map[string]RawType{
		"CNI.pdf":                        RawIdentityComplete,
		"cni_recto.jpg":                  RawIdentityFront,
		"Carte d'identité VERSO.png":     RawIdentityBack,
		"passport2024.pdf":               RawIdentityComplete,
		"verso.jpg":                      RawIdentityBack,
		"bulletin_salaire_janvier.pdf":   RawPayslip,
		"payslip-march.pdf":              RawPayslip,
		"Avis d'impôt 2024.pdf":          RawTaxNotice,
		"KBIS.pdf":                       RawCompanyRegistration,
		"releve_compte_03.pdf":           RawBankStatement,
		"Relevé d'identité bancaire.pdf": RawBankStatement,
		"livret_famille.pdf":             RawFamilyRecord,
		"scan0001.pdf":                   RawUnrecognized,
		"notes.docx":                     RawUnrecognized,
	}
	for name, want := range cases {
		assert.Equal(t, want, ClassifyName(name), name)
	}
}

// TestClassifyText verifies first-page phrase hints.
func TestClassifyText(t *testing.T) {
	assert.Equal(t, RawPayslip, ClassifyText("SOCIETE X\nBULLETIN  DE   PAIE\nPériode: mars"))
	assert.Equal(t, RawTaxNotice, ClassifyText("Avis d’impôt 2024 sur les revenus"))
	assert.Equal(t, RawUnrecognized, ClassifyText(""))
	assert.Equal(t, RawUnrecognized, ClassifyText("lorem ipsum"))
}

// TestMasterOf verifies identity sides collapse to one master type.
func TestMasterOf(t *testing.T) {
	assert.Equal(t, MasterIdentity, MasterOf(RawIdentityFront))
	assert.Equal(t, MasterIdentity, MasterOf(RawIdentityBack))
	assert.Equal(t, MasterIdentity, MasterOf(RawIdentityComplete))
	assert.Equal(t, MasterOther, MasterOf(RawUnrecognized))
	assert.Equal(t, "Other_Documents", PrettyName(MasterOther))
}

// TestNames verifies the deterministic master file and folder names.
func TestNames(t *testing.T) {
	assert.Equal(t, "Identity_DUPONT_JEAN-LUC.pdf", MasterFileName(MasterIdentity, "Dupont", "Jean-Luc"))
	assert.Equal(t, "Bank_Statements_LEFEVRE_HELENE_MARIE.pdf", MasterFileName(MasterBankStatement, "Lefèvre", "Hélène Marie"))
	assert.Equal(t, "Payslip_DURAND.pdf", MasterFileName(MasterPayslip, "durand", ""))
	assert.Equal(t, "CLIENT_DE_LA_TOUR_ANNE", CaseFolderName("de la Tour", "Anne"))
	assert.Equal(t, "helene-marie.de-la-tour@placeholder.invalid", PlaceholderEmail("Hélène Marie", "de la Tour", "placeholder.invalid"))
	assert.Equal(t, "durand@placeholder.invalid", PlaceholderEmail("", "Durand", "placeholder.invalid"))
}

// TestNormalizeKey verifies the single normalization function.
func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "PIECE_D_IDENTITE", NormalizeKey("Pièce d'identité"))
	assert.Equal(t, "BULLETINS_DE_SALAIRE", NormalizeKey("  bulletins  de salaire "))
	assert.Equal(t, "AVIS_D_IMPOSITION_N_1", NormalizeKey("Avis d'imposition (N-1)"))
	assert.Equal(t, "", NormalizeKey("--"))
}

// TestCatalogLookup verifies exact hits, alias tables in priority order and
// that the fallback bucket never resolves.
func TestCatalogLookup(t *testing.T) {
	cat := NewCatalog([]models.DocumentType{
		{ID: "t-id", Name: "Pièce d'identité", Mandatory: true},
		{ID: "t-pay", Name: "PAYSLIP"},
		{ID: "t-bank", Name: "Bank statements"},
	})
	assert.Equal(t, 3, cat.Len())

	byID, ok := cat.ByID("t-bank")
	assert.True(t, ok)
	assert.Equal(t, "Bank statements", byID.Name)

	dt, ok := cat.Resolve(MasterIdentity)
	assert.True(t, ok)
	assert.Equal(t, "t-id", dt.ID)

	dt, ok = cat.Lookup("Bulletins de salaire")
	assert.True(t, ok)
	assert.Equal(t, "t-pay", dt.ID)

	dt, ok = cat.Resolve(MasterBankStatement)
	assert.True(t, ok)
	assert.Equal(t, "t-bank", dt.ID)

	_, ok = cat.Resolve(MasterFamilyRecord)
	assert.False(t, ok)
	_, ok = cat.Resolve(MasterOther)
	assert.False(t, ok)
	_, ok = cat.Lookup("")
	assert.False(t, ok)
}

// TestKeyedLocker verifies mutual exclusion per key and cleanup.
func TestKeyedLocker(t *testing.T) {
	k := NewKeyedLocker()
	counts := map[string]int{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		key := []string{"a", "b"}[i%2]
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(key)
			defer unlock()
			mu.Lock()
			counts[key]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 25, counts["a"])
	assert.Equal(t, 25, counts["b"])
	assert.Equal(t, 0, k.Len())
}
