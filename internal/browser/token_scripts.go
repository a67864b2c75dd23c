package browser

// injectTokenJS writes the token into every g-recaptcha-response field, hands
// it to registered widget callbacks and makes later execute() calls resolve
// to it.
const injectTokenJS = `(token) => {
	window.__lotteryCaptchaToken = token;
	const fields = document.querySelectorAll('textarea[name="g-recaptcha-response"], input[name="g-recaptcha-response"], [id^="g-recaptcha-response"]');
	if (fields.length === 0 && document.forms.length > 0) {
		const ta = document.createElement("textarea");
		ta.name = "g-recaptcha-response";
		ta.style.display = "none";
		document.forms[0].appendChild(ta);
	}
	document.querySelectorAll('textarea[name="g-recaptcha-response"], input[name="g-recaptcha-response"], [id^="g-recaptcha-response"]').forEach((el) => {
		el.value = token;
		if (el.tagName === "TEXTAREA") el.innerHTML = token;
		el.dispatchEvent(new Event("input", { bubbles: true }));
		el.dispatchEvent(new Event("change", { bubbles: true }));
	});
	const patch = (g) => {
		if (!g || g.__lotteryPatched) return;
		g.execute = () => Promise.resolve(window.__lotteryCaptchaToken);
		g.getResponse = () => window.__lotteryCaptchaToken;
		g.__lotteryPatched = true;
	};
	if (window.grecaptcha) {
		patch(window.grecaptcha);
		patch(window.grecaptcha.enterprise);
	}
	if (typeof ___grecaptcha_cfg !== "undefined" && ___grecaptcha_cfg.clients) {
		Object.values(___grecaptcha_cfg.clients).forEach((client) => {
			if (!client) return;
			if (client.response !== undefined) client.response = token;
			if (typeof client.callback === "function") {
				try { client.callback(token); } catch (e) {}
			}
		});
	}
	return true;
}`

const hasTokenJS = `() => {
	const want = window.__lotteryCaptchaToken;
	if (!want) return false;
	const fields = document.querySelectorAll('textarea[name="g-recaptcha-response"], input[name="g-recaptcha-response"]');
	if (fields.length === 0) return true;
	for (const el of fields) {
		if (el.value === want) return true;
	}
	return false;
}`
