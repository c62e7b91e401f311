package discovery

func keyRecord(prefix, service, provider string) string {
	return prefix + "service:" + service + ":provider:" + provider
}

func keyProviders(prefix, service string) string {
	return prefix + "service:" + service + ":providers"
}

func keyServices(prefix string) string {
	return prefix + "services"
}
