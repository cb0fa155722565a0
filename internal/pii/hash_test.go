package pii

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/leadsync/internal/model"
	"github.com/sells-group/leadsync/internal/normalize"
)

func TestHash_Deterministic(t *testing.T) {
	email := normalize.Email("Test@Example.com ")
	assert.Equal(t, "test@example.com", email)

	h1 := Hash(email)
	h2 := Hash(email)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	// sha256("test@example.com")
	assert.Equal(t, "973dfe463ec85785f5f95af5ba3906eedb2d931c24e69824a89ea65dba4e813b", h1)
}

func TestBuildUserData_Full(t *testing.T) {
	lead := &model.Lead{
		IdentityID: "WEB-abc",
		Lineage:    model.LineageSynthetic,
		Email:      "Ana@Mail.com",
		Phone:      "5511988887777",
		FirstName:  "Ana",
		LastName:   "Silva",
		City:       "São Paulo",
		State:      "SP",
		ZipCode:    "01310-100",
		BirthDate:  "1990-02-01",
		FBC:        "fb.1.1.click",
		FBP:        "fb.1.1.browser",
		ClientIP:   "203.0.113.7",
		UserAgent:  "Mozilla/5.0",
	}

	ud := BuildUserData(lead)

	assert.Equal(t, []string{Hash("ana@mail.com")}, ud.Email)
	assert.Equal(t, []string{Hash("5511988887777")}, ud.Phone)
	assert.Equal(t, []string{Hash("ana")}, ud.FirstName)
	assert.Equal(t, []string{Hash("silva")}, ud.LastName)
	assert.Equal(t, []string{Hash("são paulo")}, ud.City)
	assert.Equal(t, []string{Hash("sp")}, ud.State)
	assert.Equal(t, []string{Hash("01310100")}, ud.ZipCode)
	assert.Equal(t, []string{Hash("19900201")}, ud.BirthDate)
	assert.Equal(t, []string{Hash("WEB-abc")}, ud.ExternalID)

	assert.Equal(t, "fb.1.1.click", ud.FBC)
	assert.Equal(t, "fb.1.1.browser", ud.FBP)
	assert.Equal(t, "203.0.113.7", ud.ClientIPAddress)
	assert.Equal(t, "Mozilla/5.0", ud.ClientUserAgent)
	assert.Empty(t, ud.LeadID)
}

func TestBuildUserData_OmitsAbsent(t *testing.T) {
	ud := BuildUserData(&model.Lead{IdentityID: "WEB-1", Lineage: model.LineageSynthetic, Phone: "11988887777"})

	assert.Nil(t, ud.Email)
	assert.Nil(t, ud.FirstName)
	assert.Nil(t, ud.ZipCode)
	assert.NotNil(t, ud.Phone)
	assert.Equal(t, []string{Hash("WEB-1")}, ud.ExternalID)
}

func TestBuildUserData_NativeLeadID(t *testing.T) {
	ud := BuildUserData(&model.Lead{IdentityID: "1234567890", Lineage: model.LineageNative})
	assert.Equal(t, "1234567890", ud.LeadID)
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
	assert.Equal(t, "", RedactEmail(""))
}

func TestRedactPhone(t *testing.T) {
	assert.Equal(t, "*********7777", RedactPhone("5511988887777"))
	assert.Equal(t, "***", RedactPhone("123"))
}
