package utils

import "golang.org/x/crypto/bcrypt"

// HashPassword bcrypt 默认成本。失败时返回空串，而空哈希的账号走不通密码登录，
// 所以这里不向上抛错。
func HashPassword(pw string) string {
	b, _ := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b)
}

func CheckPassword(pw, hashed string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(pw)) == nil
}
