package mockesia

// DefaultPerson is the person resource served when Options.Person is nil.
func DefaultPerson() map[string]any {
	return map[string]any{
		"stateFacts":        []any{"EntityRoot"},
		"firstName":         "Иван",
		"lastName":          "Иванов",
		"middleName":        "Иванович",
		"birthDate":         "01.01.1990",
		"birthPlace":        "г. Москва",
		"gender":            "M",
		"trusted":           true,
		"citizenship":       "RUS",
		"snils":             "000-000-600 06",
		"inn":               "500100732259",
		"status":            "REGISTERED",
		"verifying":         false,
		"rIdDoc":            1234567,
		"containsUpCfmCode": false,
	}
}

// DefaultCollections are the person sub-resources served when
// Options.Collections is nil.
func DefaultCollections() map[string][]map[string]any {
	return map[string][]map[string]any{
		"ctts": {
			{"stateFacts": []any{"Identifiable"}, "id": 14216800, "type": "MBT", "vrfStu": "VERIFIED", "value": "+7(900)0000000"},
			{"stateFacts": []any{"Identifiable"}, "id": 14216801, "type": "EML", "vrfStu": "VERIFIED", "value": "ivanov@example.com"},
		},
		"addrs": {
			{"stateFacts": []any{"Identifiable"}, "id": 6842010, "type": "PLV", "addressStr": "г. Москва, ул. Тверская", "house": "1", "zipCode": "125009", "countryId": "RUS"},
			{"stateFacts": []any{"Identifiable"}, "id": 6842011, "type": "PRG", "addressStr": "г. Москва, ул. Тверская", "house": "1", "zipCode": "125009", "countryId": "RUS"},
		},
		"docs": {
			{"stateFacts": []any{"Identifiable"}, "id": 1234567, "type": "RF_PASSPORT", "vrfStu": "VERIFIED", "series": "0000", "number": "000000", "issueDate": "01.01.2010", "issueId": "770-000", "issuedBy": "ОВД г. Москвы"},
		},
		"vhls": {},
		"kids": {},
	}
}
