package domain

// Profile описывает краткую карточку пользователя из сервиса профилей. Ядро переписки её не изменяет.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
}

// Account хранит учетную запись для входа по паролю
type Account struct {
	Profile
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
}
