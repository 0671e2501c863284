package db

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		message, detail string
		wantMessage     string
		wantDetail      string
	}{
		{"On Train Union Station", "", "On Train", "Union Station"},
		{"on   train   Union\tStation", "", "On Train", "Union Station"},
		{"On Train - Red Line to Downtown", "", "On Train", "Red Line to Downtown"},
		{"On Train — Gold Line", "", "On Train", "Gold Line"},
		{"Train-Red Line", "", "Train", "Red Line"},
		{"On Train", "", "On Train", ""},
		{"On Train", "  Union   Station ", "On Train", "Union Station"},
		{"On Train Union Station", "Platform 3", "On Train Union Station", "Platform 3"},
		{"Trainspotting - at home", "", "Trainspotting - at home", ""},
		{"Coffee", "", "Coffee", ""},
		{"  ", "", "", ""},
	}

	for _, tt := range tests {
		gotMessage, gotDetail := Normalize(tt.message, tt.detail)
		if gotMessage != tt.wantMessage || gotDetail != tt.wantDetail {
			t.Errorf("Normalize(%q, %q) = %q, %q; want %q, %q",
				tt.message, tt.detail, gotMessage, gotDetail, tt.wantMessage, tt.wantDetail)
		}
	}
}
