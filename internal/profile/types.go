package profile

// UserProfile is the per-user display configuration persisted as JSON.
type UserProfile struct {
	IdolName       string `json:"idol_name"`
	ProfileImage   string `json:"profile_image"`
	ThemeColor     string `json:"theme_color"`
	SecondaryColor string `json:"secondary_color"`
	ButtonColor    string `json:"button_color"`
}

// Defaults returns the profile a new user starts with.
func Defaults() UserProfile {
	return UserProfile{
		IdolName:       "未命名",
		ProfileImage:   "",
		ThemeColor:     "#FF69B4",
		SecondaryColor: "#fff5f8",
		ButtonColor:    "#FF69B4",
	}
}

// Update is a partial change; nil fields are left untouched.
type Update struct {
	IdolName       *string `json:"idol_name,omitempty"`
	ProfileImage   *string `json:"profile_image,omitempty"`
	ThemeColor     *string `json:"theme_color,omitempty"`
	SecondaryColor *string `json:"secondary_color,omitempty"`
	ButtonColor    *string `json:"button_color,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return u.IdolName == nil && u.ProfileImage == nil && u.ThemeColor == nil &&
		u.SecondaryColor == nil && u.ButtonColor == nil
}
